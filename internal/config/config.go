package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	Port            int           `env:"PORT" envDefault:"8082"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Database
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`

	// Redis: view cache and, with BROKER=redis, the event transport
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	CacheEnabled  bool   `env:"CACHE_ENABLED" envDefault:"true"`

	// Broker
	Broker                string        `env:"BROKER" envDefault:"redis"`
	NATSURL               string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	ConsumerGroup         string        `env:"CONSUMER_GROUP" envDefault:"account-service"`
	ConsumerName          string        `env:"CONSUMER_NAME" envDefault:"account-service-1"`
	ConsumerMaxDeliveries int64         `env:"CONSUMER_MAX_DELIVERIES" envDefault:"5"`
	ConsumerClaimIdle     time.Duration `env:"CONSUMER_CLAIM_IDLE" envDefault:"30s"`

	// Outbox relay
	OutboxRelayEnabled  bool          `env:"OUTBOX_RELAY_ENABLED" envDefault:"true"`
	OutboxRelayInterval time.Duration `env:"OUTBOX_RELAY_INTERVAL" envDefault:"1s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxRetention     time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`

	// Commands
	CommandMaxAttempts int `env:"COMMAND_MAX_ATTEMPTS" envDefault:"3"`

	// Auth
	JWTSecret string `env:"JWT_SECRET"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	switch c.Broker {
	case "redis", "nats":
	default:
		errs = append(errs, fmt.Errorf("BROKER must be redis or nats, got %q", c.Broker))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.CommandMaxAttempts < 1 {
		errs = append(errs, errors.New("COMMAND_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OutboxBatchSize < 1 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be at least 1"))
	}
	if c.ConsumerMaxDeliveries < 1 {
		errs = append(errs, errors.New("CONSUMER_MAX_DELIVERIES must be at least 1"))
	}
	return errors.Join(errs...)
}

// RequireJWTSecret fails when the HTTP API would start without a signing secret.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}
