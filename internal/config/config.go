// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/and161185/grouptalk/internal/limiter"
)

// Prefix is prepended to every variable name, e.g. GT_ADDR.
const Prefix = "GT"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full server configuration.
type Config struct {
	Addr       string `envconfig:"ADDR" default:":60033"`
	HealthAddr string `envconfig:"HEALTH_ADDR"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	Store       string `envconfig:"STORE" default:"postgres"`
	DatabaseDSN string `envconfig:"DATABASE_DSN"`

	CachePath     string        `envconfig:"CACHE_PATH"`
	CacheDisabled bool          `envconfig:"CACHE_DISABLED"`
	MessageTTL    time.Duration `envconfig:"MESSAGE_TTL" default:"168h"`
	MessageLimit  int           `envconfig:"MESSAGE_LIMIT" default:"500"`

	TLSEnabled bool   `envconfig:"TLS_ENABLED"`
	TLSCert    string `envconfig:"TLS_CERT" default:"cert.pem"`
	TLSKey     string `envconfig:"TLS_KEY" default:"key.pem"`

	SessionKey string        `envconfig:"SESSION_KEY"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	BotName    string        `envconfig:"BOT_NAME" default:"GeminiBot"`

	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
	MaxMessageSize int64         `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	RateBurst      int           `envconfig:"RATE_BURST" default:"20"`
	RateInterval   time.Duration `envconfig:"RATE_INTERVAL" default:"1s"`

	LoginMaxFails int           `envconfig:"LOGIN_MAX_FAILS" default:"5"`
	LoginWindow   time.Duration `envconfig:"LOGIN_WINDOW" default:"15m"`
	LoginBlock    time.Duration `envconfig:"LOGIN_BLOCK" default:"15m"`
}

// Load reads an optional .env file from the working directory, then the
// process environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return errors.New("GT_DATABASE_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown GT_STORE %q", c.Store)
	}
	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("GT_TLS_CERT and GT_TLS_KEY are required when TLS is enabled")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("GT_MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	if c.RateBurst <= 0 || c.RateInterval <= 0 {
		return errors.New("GT_RATE_BURST and GT_RATE_INTERVAL must be positive")
	}
	if c.LoginMaxFails <= 0 {
		return fmt.Errorf("GT_LOGIN_MAX_FAILS must be positive, got %d", c.LoginMaxFails)
	}
	return nil
}

// LoginPolicy returns the failed-login lockout policy.
func (c Config) LoginPolicy() limiter.Policy {
	return limiter.Policy{Window: c.LoginWindow, MaxFails: c.LoginMaxFails, BlockFor: c.LoginBlock}
}

// Debug reports whether development logging was requested.
func (c Config) Debug() bool { return c.LogLevel == "debug" }
