// Package config loads process configuration from GROVE_* environment
// variables. Command-line flags override these values in the CLI.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server configures the authoritative event log service.
type Server struct {
	Addr string `env:"GROVE_ADDR" envDefault:":8080"`

	// Database is the SQLite file backing the log. Ignored when DatabaseURL
	// is set.
	Database string `env:"GROVE_DB" envDefault:"grove.db"`

	// DatabaseURL selects the Postgres backend.
	DatabaseURL string `env:"GROVE_DATABASE_URL"`

	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string `env:"GROVE_JWT_SECRET"`

	TokenTTL time.Duration `env:"GROVE_TOKEN_TTL" envDefault:"720h"`
}

// Client configures a device syncing against a Server.
type Client struct {
	ServerURL string `env:"GROVE_SERVER_URL" envDefault:"http://localhost:8080"`
	Token     string `env:"GROVE_TOKEN"`

	// CachePath is the bbolt file holding the local event cache.
	CachePath string `env:"GROVE_CACHE" envDefault:"grove-cache.db"`

	Timeout time.Duration `env:"GROVE_TIMEOUT" envDefault:"30s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServer parses Server from the environment.
func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// LoadClient parses Client from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate reports the first missing or invalid server setting.
func (c Server) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.Database == "" && c.DatabaseURL == "" {
		return errors.New("database path or url is required")
	}
	if c.JWTSecret == "" {
		return errors.New("GROVE_JWT_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	return nil
}

// Validate reports the first missing or invalid client setting.
func (c Client) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if c.Token == "" {
		return errors.New("GROVE_TOKEN is required")
	}
	if c.CachePath == "" {
		return errors.New("cache path is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}
