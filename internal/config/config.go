// Package config loads server settings from defaults, an optional YAML file
// and DISCUSSIONHUB_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DISCUSSIONHUB_"

// Config is the complete server configuration.
type Config struct {
	ClientURL string          `yaml:"client_url" env:"CLIENT_URL"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	HTTP      HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	WebSocket WebSocketConfig `yaml:"websocket" envPrefix:"WEBSOCKET_"`
	AI        AIConfig        `yaml:"ai" envPrefix:"AI_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
}

type DatabaseConfig struct {
	Path           string        `yaml:"path" env:"PATH"`
	MaxConnections int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type WebSocketConfig struct {
	PingInterval      time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize        int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	MaxFrameBytes     int64         `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	MessagesPerMinute int           `yaml:"messages_per_minute" env:"MESSAGES_PER_MINUTE"`
}

// AIConfig tunes the baseline generator. A zero seed seeds from the clock.
type AIConfig struct {
	Seed uint64 `yaml:"seed" env:"SEED"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns settings suitable for a single-host deployment.
func DefaultConfig() *Config {
	return &Config{
		ClientURL: "http://localhost:3000",
		Database: DatabaseConfig{
			Path:           "./data/discussionhub.db",
			MaxConnections: 10,
			WriteTimeout:   30 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      5 * time.Second,
			BufferSize:        100,
			MaxFrameBytes:     128 << 10,
			MessagesPerMinute: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env if present, then path (when non-empty), then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database write timeout must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxFrameBytes <= 0 {
		return fmt.Errorf("WebSocket max frame bytes must be positive")
	}
	if c.WebSocket.MessagesPerMinute <= 0 {
		return fmt.Errorf("WebSocket messages per minute must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format)
	}

	u, err := url.Parse(c.ClientURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client url must be an absolute URL, got %q", c.ClientURL)
	}
	return nil
}
