// Command sandbox runs a local stand-in for the Tempo ads, metrics and
// creative backends.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/analytics"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/config"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/db"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/sandbox"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-sandbox")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("sandbox error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingOptions{
			ServiceName: cfg.ServiceName + "-sandbox",
			Version:     cfg.SDKVersion,
			Environment: string(cfg.Environment),
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	var sink analytics.Sink = analytics.NewMemorySink()
	if cfg.SandboxClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(ctx, cfg.SandboxClickHouseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		sink = ch
	}
	defer sink.Close()

	var counters sandbox.Counters
	if cfg.SandboxRedisCounters {
		store, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer store.Close()
		counters = store
	}

	srv := sandbox.NewServer(logger, sink, counters, observability.NewPrometheusRegistry(), sandbox.Options{
		Campaigns: cfg.SandboxCampaigns,
		FillRate:  cfg.SandboxFillRate,
		AutoClose: cfg.SandboxAutoClose,
	})

	addr := ":" + cfg.SandboxPort
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Sandbox running",
		zap.String("addr", addr),
		zap.Strings("campaigns", cfg.SandboxCampaigns),
		zap.Float64("fill_rate", cfg.SandboxFillRate))

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
