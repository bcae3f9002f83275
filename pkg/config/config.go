package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SAGAPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BusTransportMemory = "memory"
	BusTransportPubSub = "pubsub"
)

type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	GCP    GCPConfig
	PubSub PubSubConfig
	Bus    BusConfig
	Saga   SagaConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Bus.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SAGAPAY_APP_ENV" default:"dev"`
	Port         string `envconfig:"SAGAPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SAGAPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SAGAPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SAGAPAY_DB_DSN"`
	Driver string `envconfig:"SAGAPAY_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"SAGAPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SAGAPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SAGAPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SAGAPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"SAGAPAY_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	// Enabled switches the idempotency guard from the DB-table store to Redis.
	Enabled      bool          `envconfig:"SAGAPAY_REDIS_ENABLED" default:"false"`
	Address      string        `envconfig:"SAGAPAY_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"SAGAPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SAGAPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SAGAPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SAGAPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SAGAPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SAGAPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SAGAPAY_REDIS_WRITE_TIMEOUT" default:"5s"`

	// ProcessedTTL bounds how long processed event ids are remembered.
	ProcessedTTL time.Duration `envconfig:"SAGAPAY_REDIS_PROCESSED_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SAGAPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrderEventsTopic          string `envconfig:"SAGAPAY_PUBSUB_ORDER_EVENTS_TOPIC" default:"order-events"`
	PaymentEventsTopic        string `envconfig:"SAGAPAY_PUBSUB_PAYMENT_EVENTS_TOPIC" default:"payment-events"`
	OrderEventsSubscription   string `envconfig:"SAGAPAY_PUBSUB_ORDER_EVENTS_SUBSCRIPTION" default:"order-events-payments"`
	PaymentEventsSubscription string `envconfig:"SAGAPAY_PUBSUB_PAYMENT_EVENTS_SUBSCRIPTION" default:"payment-events-orders"`
}

type BusConfig struct {
	Transport string `envconfig:"SAGAPAY_BUS_TRANSPORT" default:"memory"`

	// Memory transport tuning.
	BufferSize  int `envconfig:"SAGAPAY_BUS_BUFFER_SIZE" default:"256"`
	Workers     int `envconfig:"SAGAPAY_BUS_WORKERS" default:"4"`
	MaxAttempts int `envconfig:"SAGAPAY_BUS_MAX_ATTEMPTS" default:"5"`

	// Producer-side publish retry.
	PublishAttempts int           `envconfig:"SAGAPAY_BUS_PUBLISH_ATTEMPTS" default:"3"`
	PublishBackoff  time.Duration `envconfig:"SAGAPAY_BUS_PUBLISH_BACKOFF" default:"200ms"`
}

func (b BusConfig) validate() error {
	switch b.Transport {
	case BusTransportMemory, BusTransportPubSub:
		return nil
	default:
		return fmt.Errorf("unknown bus transport %q", b.Transport)
	}
}

type SagaConfig struct {
	// AwaitTimeout bounds the synchronous create-and-await path.
	AwaitTimeout time.Duration `envconfig:"SAGAPAY_SAGA_AWAIT_TIMEOUT" default:"30s"`

	// SeedBalances installs the demo ledger rows on startup in dev.
	SeedBalances bool `envconfig:"SAGAPAY_SAGA_SEED_BALANCES" default:"false"`
}
