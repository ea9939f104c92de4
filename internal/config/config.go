// Package config loads cauce-hub's configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all hub configuration.
type Config struct {
	// Server
	Address    string
	ServerName string

	// Transports
	WebSocketEnabled bool
	SSEEnabled       bool
	PollingEnabled   bool
	WebhookEnabled   bool
	RoutePrefix      string

	// Limits
	MaxConnections                   int
	MaxSubscriptionsPerClient        int
	MaxTopicsPerSubscription         int
	MaxSignalSize                    int
	MaxPendingSignalsPerSubscription int
	// RejectOnPendingLimit selects the back-pressure policy once a
	// subscription's pending queue hits MaxPendingSignalsPerSubscription:
	// false (default) drops the oldest pending delivery, true rejects the
	// new one with limit_exceeded.
	RejectOnPendingLimit bool
	SessionTimeout       time.Duration
	LongPollTimeout      time.Duration

	// Rate limiting
	RateLimitRequestsPerSecond float64
	RateLimitBurst             float64

	// Redelivery
	RedeliveryEnabled   bool
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	BackoffMultiplier   float64
	MaxAttempts         int
	DeadLetterTopic     string

	// Auth
	AuthBearerSecret string

	// Backing stores (all optional; in-memory managers are authoritative)
	PostgresURL   string
	ClickHouseURL string
	NATSURL       string
	RedisURL      string
	BrokerEnabled bool

	S3Endpoint               string
	S3AccessKey              string
	S3SecretKey              string
	S3Bucket                 string
	S3UseSSL                 bool
	S3SkipBucketVerification bool
	MaxInlinePayloadBytes    int

	// SearchIndexPath is where the dead-letter Bleve index is stored on
	// disk. Empty disables dead-letter indexing entirely.
	SearchIndexPath string

	// App
	Environment string // development, staging, production
	LogLevel    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Address:    getEnv("ADDRESS", ":8080"),
		ServerName: getEnv("SERVER_NAME", "cauce-hub"),

		WebSocketEnabled: getEnvBool("TRANSPORT_WEBSOCKET_ENABLED", true),
		SSEEnabled:       getEnvBool("TRANSPORT_SSE_ENABLED", true),
		PollingEnabled:   getEnvBool("TRANSPORT_POLLING_ENABLED", true),
		WebhookEnabled:   getEnvBool("TRANSPORT_WEBHOOK_ENABLED", false),
		RoutePrefix:      getEnv("ROUTE_PREFIX", "/cauce/v1"),

		MaxConnections:                   getEnvInt("LIMITS_MAX_CONNECTIONS", 10000),
		MaxSubscriptionsPerClient:        getEnvInt("LIMITS_MAX_SUBSCRIPTIONS_PER_CLIENT", 100),
		MaxTopicsPerSubscription:         getEnvInt("LIMITS_MAX_TOPICS_PER_SUBSCRIPTION", 50),
		MaxSignalSize:                    getEnvInt("LIMITS_MAX_SIGNAL_SIZE", 1<<20),
		MaxPendingSignalsPerSubscription: getEnvInt("LIMITS_MAX_PENDING_SIGNALS_PER_SUBSCRIPTION", 1000),
		RejectOnPendingLimit:             getEnvBool("LIMITS_REJECT_ON_PENDING_LIMIT", false),
		SessionTimeout:                   getEnvDuration("LIMITS_SESSION_TIMEOUT_SECONDS", 3600*time.Second),
		LongPollTimeout:                  getEnvDuration("LIMITS_LONG_POLL_TIMEOUT_SECONDS", 30*time.Second),

		RateLimitRequestsPerSecond: getEnvFloat("LIMITS_RATE_LIMIT_REQUESTS_PER_SECOND", 100),
		RateLimitBurst:             getEnvFloat("LIMITS_RATE_LIMIT_BURST", 50),

		RedeliveryEnabled: getEnvBool("REDELIVERY_ENABLED", true),
		InitialDelay:      getEnvDuration("REDELIVERY_INITIAL_DELAY_SECONDS", 5*time.Second),
		MaxDelay:          getEnvDuration("REDELIVERY_MAX_DELAY_SECONDS", 300*time.Second),
		BackoffMultiplier: getEnvFloat("REDELIVERY_BACKOFF_MULTIPLIER", 2.0),
		MaxAttempts:       getEnvInt("REDELIVERY_MAX_ATTEMPTS", 5),
		DeadLetterTopic:   getEnv("REDELIVERY_DEAD_LETTER_TOPIC", ""),

		AuthBearerSecret: getEnv("AUTH_BEARER_SECRET", ""),

		PostgresURL:   getEnv("POSTGRES_URL", ""),
		ClickHouseURL: getEnv("CLICKHOUSE_URL", ""),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		RedisURL:      getEnv("REDIS_URL", ""),
		BrokerEnabled: getEnvBool("BROKER_ENABLED", false),

		S3Endpoint:               getEnv("S3_ENDPOINT", "http://localhost:9002"),
		S3AccessKey:              getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:              getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:                 getEnv("S3_BUCKET", "cauce-payloads"),
		S3UseSSL:                 getEnvBool("S3_USE_SSL", false),
		S3SkipBucketVerification: getEnvBool("S3_SKIP_BUCKET_VERIFICATION", true),
		MaxInlinePayloadBytes:    getEnvInt("MAX_INLINE_PAYLOAD_BYTES", 256*1024),

		SearchIndexPath: getEnv("SEARCH_INDEX_PATH", "./data/search"),

		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Address == "" {
		return fmt.Errorf("ADDRESS is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("REDELIVERY_MAX_ATTEMPTS must be >= 1")
	}
	if c.BrokerEnabled && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when BROKER_ENABLED is true")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Development returns the environment-loaded Config with Environment set to
// "development" and InitialDelay shortened to one second; every other field
// keeps the value Load gave it.
func Development() *Config {
	cfg, _ := Load()
	cfg.Environment = "development"
	cfg.InitialDelay = time.Second
	return cfg
}

// Production returns the environment-loaded Config with Environment set to
// "production" and MaxConnections, RateLimitRequestsPerSecond and
// RateLimitBurst pinned to 10000, 100 and 50 (the same values Load defaults
// to), overriding any environment setting for those three fields.
func Production() *Config {
	cfg, _ := Load()
	cfg.Environment = "production"
	cfg.MaxConnections = 10000
	cfg.RateLimitRequestsPerSecond = 100
	cfg.RateLimitBurst = 50
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
