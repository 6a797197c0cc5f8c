// Package config loads asof settings from the environment. Command-line
// flags override what is loaded here.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration.
type Config struct {
	DBPath           string `env:"ASOF_DB" envDefault:"asof.db"`
	PostgresDSN      string `env:"ASOF_POSTGRES_DSN"`
	SchemaDir        string `env:"ASOF_SCHEMA" envDefault:"schema"`
	LogLevel         string `env:"ASOF_LOG_LEVEL" envDefault:"info"`
	MaxOrderAttempts int    `env:"ASOF_MAX_ORDER_ATTEMPTS" envDefault:"64"`
	IDSetThreshold   int    `env:"ASOF_IDSET_THRESHOLD" envDefault:"256"`
	Prefetch         bool   `env:"ASOF_PREFETCH"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.PostgresDSN == "" && c.DBPath == "" {
		return fmt.Errorf("config: ASOF_DB or ASOF_POSTGRES_DSN is required")
	}
	if c.MaxOrderAttempts <= 0 {
		return fmt.Errorf("config: ASOF_MAX_ORDER_ATTEMPTS must be positive, got %d", c.MaxOrderAttempts)
	}
	if c.IDSetThreshold <= 0 {
		return fmt.Errorf("config: ASOF_IDSET_THRESHOLD must be positive, got %d", c.IDSetThreshold)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// UsePostgres reports whether the postgres backend is selected.
func (c Config) UsePostgres() bool {
	return c.PostgresDSN != ""
}

// Level maps LogLevel to a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
}
