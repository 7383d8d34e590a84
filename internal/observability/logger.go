package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the default engine logger.
func InitLogger() (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), "tempo-sdk")
}

// InitLoggerWithService builds a logger for serviceName at the level chosen by
// LOG_LEVEL and TEMPO_ENV.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel builds a JSON logger at level, tags every entry with
// the service name and installs it as the zap global, which packages without
// an injected logger (analytics) fall back to.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	if level == zapcore.DebugLevel {
		cfg.Sampling = nil
	}

	logger, err := cfg.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, err
	}
	logger = logger.Named(serviceName)
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// getLogLevel reads LOG_LEVEL. When it is unset or unparsable, the dev
// environment logs at debug and everything else at info.
func getLogLevel() zapcore.Level {
	if lvl, err := zapcore.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil && os.Getenv("LOG_LEVEL") != "" {
		return lvl
	}
	switch strings.ToLower(os.Getenv("TEMPO_ENV")) {
	case "dev", "development":
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
