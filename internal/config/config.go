package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment selects the backend the engine talks to.
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvProduction  Environment = "prod"
)

var adsURLs = map[Environment]string{
	EnvDevelopment: "https://ads-api.dev.tempoplatform.com/ad",
	EnvProduction:  "https://ads-api.tempoplatform.com/ad",
}

var metricsURLs = map[Environment]string{
	EnvDevelopment: "https://metric-api.dev.tempoplatform.com/metrics",
	EnvProduction:  "https://metric-api.tempoplatform.com/metrics",
}

var creativeURLs = map[Environment]string{
	EnvDevelopment: "https://development--tempo-html-ads.netlify.app",
	EnvProduction:  "https://ads.tempoplatform.com",
}

// Config holds engine configuration derived from environment variables.
type Config struct {
	Environment    Environment
	AdsURL         string
	MetricsURL     string
	CreativeURL    string
	SDKVersion     string
	AdapterVersion string
	AdapterType    string
	FetchTimeout   time.Duration
	MetricsTimeout time.Duration
	// Statuses from the metrics endpoint that mean the batch was rejected and
	// must not be retried.
	MetricsRejectStatuses []int
	// Backup store configuration
	BackupDir            string
	BackupMaxRecords     int
	BackupRetention      time.Duration
	BackupResendOnce     bool
	BackupResendOnLaunch bool
	// Location configuration
	LocationEnabled bool
	LocationCache   string // "file" or "redis"
	LocationFile    string
	LocationTimeout time.Duration
	RedisAddr       string
	GeoIPDB         string
	ServiceName     string
	// Sandbox backend configuration
	SandboxPort          string
	SandboxCampaigns     []string
	SandboxFillRate      float64
	SandboxClickHouseDSN string
	SandboxRedisCounters bool
	SandboxAutoClose     bool
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Environment = Environment(strings.ToLower(getenv("TEMPO_ENV", string(EnvProduction))))
	if _, ok := adsURLs[cfg.Environment]; !ok {
		cfg.Environment = EnvProduction
	}
	cfg.AdsURL = getenv("ADS_URL", adsURLs[cfg.Environment])
	cfg.MetricsURL = getenv("METRICS_URL", metricsURLs[cfg.Environment])
	cfg.CreativeURL = getenv("CREATIVE_URL", creativeURLs[cfg.Environment])
	cfg.SDKVersion = getenv("SDK_VERSION", "1.6.0")
	cfg.AdapterVersion = getenv("ADAPTER_VERSION", "1.2.0")
	cfg.AdapterType = getenv("ADAPTER_TYPE", "IRONSOURCE")
	cfg.FetchTimeout = envDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.MetricsTimeout = envDuration("METRICS_TIMEOUT", 10*time.Second)
	cfg.MetricsRejectStatuses = envInts("METRICS_REJECT_STATUSES", []int{400, 422, 500})

	cfg.BackupDir = getenv("BACKUP_DIR", "tempo_metrics_backup")
	cfg.BackupMaxRecords = envInt("BACKUP_MAX_RECORDS", 100)
	cfg.BackupRetention = envDuration("BACKUP_RETENTION", 7*24*time.Hour)
	// only resend backups once per process so a failing network is not retried twice
	cfg.BackupResendOnce = envBool("BACKUP_RESEND_ONCE", true)
	cfg.BackupResendOnLaunch = envBool("BACKUP_RESEND_ON_LAUNCH", true)

	cfg.LocationEnabled = envBool("LOCATION_ENABLED", true)
	cfg.LocationCache = getenv("LOCATION_CACHE", "file")
	cfg.LocationFile = getenv("LOCATION_FILE", "tempo_location_profile.json")
	cfg.LocationTimeout = envDuration("LOCATION_TIMEOUT", 10*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")
	cfg.ServiceName = getenv("SERVICE_NAME", "tempo-sdk")

	cfg.SandboxPort = getenv("SANDBOX_PORT", "8787")
	cfg.SandboxCampaigns = envList("SANDBOX_CAMPAIGNS", []string{"sandbox-campaign"})
	cfg.SandboxFillRate = envFloat("SANDBOX_FILL_RATE", 1.0)
	cfg.SandboxClickHouseDSN = getenv("SANDBOX_CLICKHOUSE_DSN", "")
	cfg.SandboxRedisCounters = envBool("SANDBOX_REDIS_COUNTERS", false)
	cfg.SandboxAutoClose = envBool("SANDBOX_AUTO_CLOSE", true)
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// envInts parses a comma separated list of integers. Any invalid entry makes
// the whole variable fall back to def.
func envInts(key string, def []int) []int {
	parts := envList(key, nil)
	if parts == nil {
		return def
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return def
		}
		out = append(out, i)
	}
	return out
}
