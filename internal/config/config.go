package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Persistence. StoreURI is either "memory" or a postgres URL.
	StoreURI string

	// Identity.
	SessionSecret string
	TokenTTL      time.Duration

	// Queue engine tuning. All read once at start.
	UndoWindow         time.Duration
	RestructureHorizon time.Duration
	MaterialWaitDelta  int
	ConflictRetries    int

	// Notification fan-out.
	NotifierURL         string
	NotifyQueueURL      string
	NotifyWorkers       int
	NotifyBuffer        int
	NotifyMaxRetries    int
	NotifyBatchSize     int
	NotifyFlushInterval time.Duration

	// AWS (only relevant when NotifyQueueURL points at SQS).
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Redis-backed session cache, wait-time cache, and login throttling.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisTLS        bool
	WaitCacheTTL    time.Duration
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// HTTP surface.
	CORSAllowedOrigins []string

	// Reporting rollup cadence (postgres store only).
	ReportingRollupInterval time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreURI: getEnv("STORE_URI", "memory"),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		TokenTTL:      secondsEnv("TOKEN_TTL_SECONDS", 86400),

		UndoWindow:         secondsEnv("UNDO_WINDOW_SECONDS", 300),
		RestructureHorizon: secondsEnv("RESTRUCTURE_HORIZON_SECONDS", 86400),
		MaterialWaitDelta:  getEnvAsInt("MATERIAL_WAIT_DELTA_MINUTES", 5),
		ConflictRetries:    getEnvAsInt("CONFLICT_RETRIES", 3),

		NotifierURL:         getEnv("NOTIFIER_URL", ""),
		NotifyQueueURL:      getEnv("NOTIFY_QUEUE_URL", ""),
		NotifyWorkers:       getEnvAsInt("NOTIFY_WORKERS", 4),
		NotifyBuffer:        getEnvAsInt("NOTIFY_BUFFER", 1024),
		NotifyMaxRetries:    getEnvAsInt("NOTIFY_MAX_RETRIES", 3),
		NotifyBatchSize:     getEnvAsInt("NOTIFY_BATCH_SIZE", 100),
		NotifyFlushInterval: getEnvAsDuration("NOTIFY_FLUSH_INTERVAL", time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvAsInt("REDIS_DB", 0),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		WaitCacheTTL:    secondsEnv("WAIT_CACHE_TTL_SECONDS", 15),
		LoginRateLimit:  getEnvAsInt("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: secondsEnv("LOGIN_RATE_WINDOW_SECONDS", 60),

		CORSAllowedOrigins: splitEnv("CORS_ALLOWED_ORIGINS"),

		ReportingRollupInterval: getEnvAsDuration("REPORTING_ROLLUP_INTERVAL", 15*time.Minute),
	}
}

// splitEnv reads a comma-separated list, dropping empty elements.
func splitEnv(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// secondsEnv reads an integer number of seconds. Keys follow the
// *_SECONDS convention so operators never guess at duration syntax.
func secondsEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
