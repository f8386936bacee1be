// Package config loads aggregator configuration from YAML or TOML files with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/chatstream/logging"
)

// Logging backends.
const (
	LogBackendSlog = "slog"
	LogBackendZap  = "zap"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all chatstream configuration.
type Config struct {
	// Frame rate of the flush clock in Hz.
	FrameRate int `yaml:"frame_rate" toml:"frame_rate"`

	// Capacity of the event channel used by Run and the source pump.
	EventBuffer int `yaml:"event_buffer" toml:"event_buffer"`

	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Backend   string `yaml:"backend" toml:"backend"` // slog, zap
	Level     string `yaml:"level" toml:"level"`     // debug, info, warn, error
	Format    string `yaml:"format" toml:"format"`   // json, text
	AddSource bool   `yaml:"add_source" toml:"add_source"`
}

// StoreConfig selects the message store.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // memory, sqlite
	Path   string `yaml:"path" toml:"path"`
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		FrameRate:   60,
		EventBuffer: 256,
		Logging: LoggingConfig{
			Backend: LogBackendSlog,
			Level:   "info",
			Format:  "json",
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Path:   "chatstream.db",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "chatstream",
		},
	}
}

// Load reads a configuration file. The format is chosen by extension
// (.yaml/.yml or .toml). A missing file yields the defaults. Environment
// overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration as YAML or TOML depending on the extension.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.NewEncoder(f).Encode(c)
	default:
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		err = enc.Encode(c)
		if err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("CHATSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("CHATSTREAM_LOG_BACKEND"); backend != "" {
		c.Logging.Backend = backend
	}
	if path := os.Getenv("CHATSTREAM_STORE_PATH"); path != "" {
		c.Store.Path = path
		c.Store.Driver = StoreSQLite
	}
	if rate := os.Getenv("CHATSTREAM_FRAME_RATE"); rate != "" {
		if n, err := strconv.Atoi(rate); err == nil {
			c.FrameRate = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.FrameRate <= 0 || c.FrameRate > 1000 {
		return fmt.Errorf("invalid frame rate: %d (must be 1-1000)", c.FrameRate)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("invalid event buffer: %d", c.EventBuffer)
	}
	switch c.Logging.Backend {
	case "", LogBackendSlog, LogBackendZap:
	default:
		return fmt.Errorf("invalid log backend: %s (valid: slog, zap)", c.Logging.Backend)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("sqlite store requires a path")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (valid: memory, sqlite)", c.Store.Driver)
	}
	return nil
}

// LogLevel returns the parsed log level, falling back to info.
func (c *Config) LogLevel() logging.LogLevel {
	l, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LogLevelInfo
	}
	return l
}
