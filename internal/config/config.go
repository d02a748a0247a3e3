// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for fieldgate.
type Config struct {
	// HTTP listen address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Bolt database path. Used unless DATABASE_URL selects Postgres.
	BoltPath string `env:"FIELDGATE_DB" envDefault:"fieldgate.db"`

	// Postgres connection string. When set, it replaces the bolt store.
	DatabaseURL string `env:"DATABASE_URL"`

	// Model catalogue and the dataset directory it is served from.
	SchemaPath   string `env:"SCHEMA_PATH" envDefault:"schema.yaml"`
	DatasetDir   string `env:"DATASET_DIR" envDefault:"dataset"`
	WatchDataset bool   `env:"WATCH_DATASET" envDefault:"true"`

	// Secret keying the consent-flow state tokens. Required; never logged.
	StateSecret string `env:"STATE_SECRET"`

	// Token lifetimes.
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthCodeTTL     time.Duration `env:"AUTH_CODE_TTL" envDefault:"5m"`
	StateTTL        time.Duration `env:"STATE_TTL" envDefault:"10m"`

	// How often expired codes and token pairs are swept from the store.
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"5m"`
}

// stateSecretMinLen is the minimum length for STATE_SECRET. The secret
// keys HMAC-SHA256 over consent state; 32 characters is a conservative
// entropy floor for hex, base64 or passphrase formats.
const stateSecretMinLen = 32

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing STATE_SECRET to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StateSecret == "" {
		return fmt.Errorf("STATE_SECRET is required")
	}
	if len(c.StateSecret) < stateSecretMinLen {
		return fmt.Errorf("STATE_SECRET must be at least %d characters", stateSecretMinLen)
	}

	if c.SchemaPath == "" {
		return fmt.Errorf("SCHEMA_PATH is required")
	}
	if c.DatasetDir == "" {
		return fmt.Errorf("DATASET_DIR is required")
	}

	if c.BoltPath == "" && c.DatabaseURL == "" {
		return fmt.Errorf("one of FIELDGATE_DB or DATABASE_URL is required")
	}

	for _, ttl := range []struct {
		name  string
		value time.Duration
	}{
		{"ACCESS_TOKEN_TTL", c.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", c.RefreshTokenTTL},
		{"AUTH_CODE_TTL", c.AuthCodeTTL},
		{"STATE_TTL", c.StateTTL},
		{"PRUNE_INTERVAL", c.PruneInterval},
	} {
		if ttl.value <= 0 {
			return fmt.Errorf("%s must be positive", ttl.name)
		}
	}

	return nil
}

// UsesPostgres returns true when a Postgres connection string is set.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
