// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct. A local .env file, when present, is loaded first with
'joho/godotenv' so development setups do not need exported variables.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, Mongo) via constructors.
  - Zero Hidden State: No global variables are used to store config.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backend selectors.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
)

// # Configuration Schema

// Config holds all runtime configuration for the Decorly API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Store (Redis): pending signups and shared guard counters
	RedisURL string `env:"REDIS_URL,required"`

	// Document Store (MongoDB): optional activity log backend
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DB" envDefault:"decorly"`

	// ActivityStore selects the activity log backend: postgres or mongo.
	ActivityStore string `env:"ACTIVITY_STORE" envDefault:"postgres"`

	// CounterStore selects the rate/login guard backend: memory or redis.
	CounterStore string `env:"COUNTER_STORE" envDefault:"redis"`

	// Cryptographic keys for session and identity signing
	SessionSecret  string `env:"SESSION_SECRET,required"`
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`

	// Outbound mail. An empty SMTPAddr logs messages instead of sending them.
	SMTPAddr     string `env:"SMTP_ADDR"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"no-reply@decorly.app"`

	// TrustProxy enables X-Forwarded-For / X-Real-IP rewriting of RemoteAddr.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load reads an optional .env file, then parses environment variables into
// a [Config] struct. Variables already present in the environment win over
// the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read .env file: %w", err)
	}

	cfg := &Config{}

	// Fails if any field marked 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.ActivityStore {
	case StorePostgres:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI is required when ACTIVITY_STORE=mongo")
		}
	default:
		return fmt.Errorf("config: unknown ACTIVITY_STORE %q", c.ActivityStore)
	}

	if c.CounterStore != StoreMemory && c.CounterStore != StoreRedis {
		return fmt.Errorf("config: unknown COUNTER_STORE %q", c.CounterStore)
	}

	if len(c.SessionSecret) < 32 {
		return errors.New("config: SESSION_SECRET must be at least 32 bytes")
	}

	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
