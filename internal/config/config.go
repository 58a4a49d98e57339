// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// WSAddr is the address the websocket sync server listens on (e.g. :8080).
	WSAddr string `mapstructure:"WS_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "sync-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "sync-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// TxRetryLimit is the number of additional attempts after the first when
	// a serializable transaction hits a conflict (default 3).
	TxRetryLimit int `mapstructure:"TX_RETRY_LIMIT"`
	// TxTimeout bounds every transaction attempt including commit (e.g. "10s").
	TxTimeout string `mapstructure:"TX_TIMEOUT"`

	// ActivityCacheTTL is how long a heartbeat validation stays trusted (e.g. "30s").
	ActivityCacheTTL string `mapstructure:"ACTIVITY_CACHE_TTL"`
	// ActivitySkipThreshold is the minimum advance over the last persisted
	// last-active timestamp for a heartbeat write to be accepted (e.g. "30s").
	ActivitySkipThreshold string `mapstructure:"ACTIVITY_SKIP_THRESHOLD"`
	// ActivityFlushInterval is how often coalesced heartbeat writes are persisted (e.g. "5s").
	ActivityFlushInterval string `mapstructure:"ACTIVITY_FLUSH_INTERVAL"`
	// ActivitySweepInterval is how often expired activity cache entries are evicted (e.g. "5m").
	ActivitySweepInterval string `mapstructure:"ACTIVITY_SWEEP_INTERVAL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Firehose (optional). When Kafka brokers are set, every committed update
	// event is mirrored to Kafka.
	// FirehoseKafkaBrokers is a comma-separated list of broker addresses (e.g. "localhost:9092").
	FirehoseKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// FirehoseKafkaTopic is the Kafka topic for mirrored update events (default sync-firehose).
	FirehoseKafkaTopic string `mapstructure:"FIREHOSE_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the firehose worker to push events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the firehose worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// OTLPEndpoint is the OTLP gRPC endpoint for traces/metrics/logs; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("WS_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "sync-auth")
	v.SetDefault("JWT_AUDIENCE", "sync-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("TX_RETRY_LIMIT", 3)
	v.SetDefault("TX_TIMEOUT", "10s")
	v.SetDefault("ACTIVITY_CACHE_TTL", "30s")
	v.SetDefault("ACTIVITY_SKIP_THRESHOLD", "30s")
	v.SetDefault("ACTIVITY_FLUSH_INTERVAL", "5s")
	v.SetDefault("ACTIVITY_SWEEP_INTERVAL", "5m")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("FIREHOSE_KAFKA_TOPIC", "sync-firehose")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "sync-firehose-worker")
	v.SetDefault("OTLP_ENDPOINT", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.WSAddr == "" {
		return nil, errors.New("config: WS_ADDR must be set")
	}

	if cfg.TxRetryLimit < 0 {
		return nil, errors.New("config: TX_RETRY_LIMIT must not be negative")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

func (c *Config) duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return c.duration(c.JWTAccessTTL, 15*time.Minute)
}

// TxTimeoutDuration parses TxTimeout. Returns 10s if unset or invalid.
func (c *Config) TxTimeoutDuration() time.Duration {
	return c.duration(c.TxTimeout, 10*time.Second)
}

// ActivityTTL parses ActivityCacheTTL. Returns 30s if unset or invalid.
func (c *Config) ActivityTTL() time.Duration {
	return c.duration(c.ActivityCacheTTL, 30*time.Second)
}

// ActivitySkip parses ActivitySkipThreshold. Returns 30s if unset or invalid.
func (c *Config) ActivitySkip() time.Duration {
	return c.duration(c.ActivitySkipThreshold, 30*time.Second)
}

// ActivityFlush parses ActivityFlushInterval. Returns 5s if unset or invalid.
func (c *Config) ActivityFlush() time.Duration {
	return c.duration(c.ActivityFlushInterval, 5*time.Second)
}

// ActivitySweep parses ActivitySweepInterval. Returns 5m if unset or invalid.
func (c *Config) ActivitySweep() time.Duration {
	return c.duration(c.ActivitySweepInterval, 5*time.Minute)
}

// FirehoseKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the firehose is enabled (non-empty list) and to create the producer.
func (c *Config) FirehoseKafkaBrokersList() []string {
	if c == nil || c.FirehoseKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.FirehoseKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
