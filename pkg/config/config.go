// Package config loads strand configuration from a YAML file with environment
// overrides, and hot-reloads the log level when the file changes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultHost       = "127.0.0.1:8787"
	DefaultMaxRetries = 5
	DefaultMaxBackoff = 30 * time.Second
	DefaultLogLevel   = "info"
)

// Config is the complete strand configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Debug      DebugConfig      `yaml:"debug"`
	History    HistoryConfig    `yaml:"history"`
	LogLevel   string           `yaml:"log_level"`
}

// ConnectionConfig controls how the client reaches the agent daemon.
type ConnectionConfig struct {
	Host       string        `yaml:"host"`
	Token      string        `yaml:"token"`
	TLS        bool          `yaml:"tls"`
	MaxRetries int           `yaml:"max_retries"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DebugConfig controls the optional debug sidecar.
type DebugConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig controls local persistence.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:       DefaultHost,
			MaxRetries: DefaultMaxRetries,
			MaxBackoff: DefaultMaxBackoff,
		},
		History:  HistoryConfig{Path: defaultHistoryPath()},
		LogLevel: DefaultLogLevel,
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "strand-history.db"
	}
	return filepath.Join(home, ".local", "share", "strand", "history.db")
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "strand", "config.yaml")
}

// Load reads the file at path, falling back to defaults when it does not
// exist, then applies STRAND_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file is fine; env and defaults carry it.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STRAND_HOST"); v != "" {
		c.Connection.Host = v
	}
	if v := os.Getenv("STRAND_TOKEN"); v != "" {
		c.Connection.Token = v
	}
	if v := os.Getenv("STRAND_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Connection.TLS = b
		}
	}
	if v := os.Getenv("STRAND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("STRAND_DEBUG_ADDR"); v != "" {
		c.Debug.Addr = v
	}
}

func (c *Config) fillDefaults() {
	if c.Connection.Host == "" {
		c.Connection.Host = DefaultHost
	}
	if c.Connection.MaxRetries == 0 {
		c.Connection.MaxRetries = DefaultMaxRetries
	}
	if c.Connection.MaxBackoff == 0 {
		c.Connection.MaxBackoff = DefaultMaxBackoff
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath()
	}
}

func (c *Config) validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Connection.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	return nil
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", level)
	}
}
