package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Server captures process level configuration.
type Server struct {
	Addr        string        `env:"ESCROW_ADDR" envDefault:":8080"`
	Environment string        `env:"ESCROW_ENV" envDefault:"development"`
	LogLevel    string        `env:"ESCROW_LOG_LEVEL" envDefault:"info"`
	TxTimeout   time.Duration `env:"ESCROW_TX_TIMEOUT" envDefault:"5s"`
	// AdminToken guards the treasury endpoint. Empty leaves it open.
	AdminToken string `env:"ESCROW_ADMIN_TOKEN"`

	Marketplace MarketplaceConfig
	Proof       ProofConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Tracing     TracingConfig
}

// MarketplaceConfig holds the settlement policy.
type MarketplaceConfig struct {
	// FeeRate is the platform share of each sale, fixed at startup.
	FeeRate string `env:"ESCROW_FEE_RATE" envDefault:"0.025"`
}

// ProofConfig configures identity proof signing.
type ProofConfig struct {
	SigningKey string        `env:"ESCROW_PROOF_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	Issuer     string        `env:"ESCROW_PROOF_ISSUER" envDefault:"escrow"`
	TTL        time.Duration `env:"ESCROW_PROOF_TTL" envDefault:"720h"`
}

// DatabaseConfig selects PostgreSQL. An empty URL keeps state in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig enables the identity membership cache when URL is set.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	CacheTTL     time.Duration `env:"REDIS_IDENTITY_CACHE_TTL" envDefault:"10m"`
}

// KafkaConfig enables the event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	ClientID          string   `env:"KAFKA_CLIENT_ID" envDefault:"escrow"`
	EventsTopic       string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"escrow.events"`
	Partitions        int32    `env:"KAFKA_EVENTS_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16    `env:"KAFKA_EVENTS_REPLICATION" envDefault:"1"`
	BufferSize        int      `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
}

// TracingConfig enables OTLP span export when Endpoint is set.
type TracingConfig struct {
	Enabled     bool    `env:"ESCROW_OTEL_ENABLED" envDefault:"true"`
	Endpoint    string  `env:"ESCROW_OTEL_ENDPOINT"`
	ServiceName string  `env:"ESCROW_OTEL_SERVICE_NAME" envDefault:"escrow"`
	SampleRatio float64 `env:"ESCROW_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// FromEnv loads and validates configuration from environment variables.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Marketplace.Rate(); err != nil {
		return Server{}, err
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return Server{}, fmt.Errorf("ESCROW_OTEL_SAMPLE_RATIO must be in [0, 1], got %v", cfg.Tracing.SampleRatio)
	}
	if cfg.Environment == "production" && cfg.Proof.SigningKey == "dev-secret-key-change-in-production" {
		return Server{}, fmt.Errorf("ESCROW_PROOF_SIGNING_KEY must be set in production")
	}
	return cfg, nil
}

// Rate parses the fee rate. It must lie in [0, 1).
func (m MarketplaceConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(m.FeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ESCROW_FEE_RATE %q: %w", m.FeeRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("ESCROW_FEE_RATE must be in [0, 1), got %s", m.FeeRate)
	}
	return rate, nil
}
