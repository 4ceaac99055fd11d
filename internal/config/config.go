// Package config provides configuration loading for codexd.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/workspace"
)

// Config is the full codexd daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Logging   logging.Config  `koanf:"logging"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// PostgresConfig holds the registry database settings. URL points at the
// shared registry database; project databases live on the same server.
type PostgresConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"max_conns"`
}

// WorkspaceConfig holds the external workspace integration settings.
// IntegrationURL empty means the integration tier is disabled.
type WorkspaceConfig struct {
	IntegrationURL string   `koanf:"integration_url"`
	Timeout        Duration `koanf:"timeout"`
	CacheTTL       Duration `koanf:"cache_ttl"`
}

// NewDefaultConfig returns the hardcoded defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8420,
		},
		Postgres: PostgresConfig{
			URL:      "postgres://localhost:5432/codexd",
			MaxConns: 10,
		},
		Workspace: WorkspaceConfig{
			Timeout:  Duration(workspace.DefaultTimeout),
			CacheTTL: Duration(workspace.DefaultCacheTTL),
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// applyDefaults fills zero values with defaults.
func applyDefaults(cfg *Config) {
	def := NewDefaultConfig()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Postgres.URL == "" {
		cfg.Postgres.URL = def.Postgres.URL
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = def.Postgres.MaxConns
	}
	if cfg.Workspace.Timeout == 0 {
		cfg.Workspace.Timeout = def.Workspace.Timeout
	}
	if cfg.Workspace.CacheTTL == 0 {
		cfg.Workspace.CacheTTL = def.Workspace.CacheTTL
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = def.Logging.Fields
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Postgres.MaxConns < 1 {
		return fmt.Errorf("postgres max_conns must be positive, got %d", c.Postgres.MaxConns)
	}
	if c.Workspace.IntegrationURL != "" {
		u, err := url.Parse(c.Workspace.IntegrationURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid workspace integration URL %q", c.Workspace.IntegrationURL)
		}
	}
	if c.Workspace.Timeout.Duration() > 30*time.Second {
		return fmt.Errorf("workspace timeout %s too large, must be <= 30s", c.Workspace.Timeout.Duration())
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}
