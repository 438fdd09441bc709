package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/stopcheck/internal/remote"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region types
// Config is the full stopcheck configuration. Precedence, lowest first:
// defaults, YAML file, environment.
type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	Log      LogConfig       `yaml:"log"`
	Server   ServerConfig    `yaml:"server"`
	Client   ClientConfig    `yaml:"client"`
	Stopping stopping.Config `yaml:"stopping"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" | "postgres"
	DSN    string `yaml:"dsn"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "auto" | "console" | "json"
}

// ServerConfig is the history service listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ClientConfig tunes the history service client.
type ClientConfig struct {
	Addr           string        `yaml:"addr"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
	MaxRetries     uint64        `yaml:"max_retries"`
	RetryTimeout   time.Duration `yaml:"retry_timeout"`
	CacheSize      int           `yaml:"cache_size"`
}

// #endregion types

// #region defaults
// SearchPaths are tried in order when no config path is given.
var SearchPaths = []string{"stopcheck.yaml", "stopcheck.yml", ".stopcheck.yaml"}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "stopcheck.db"},
		Log:      LogConfig{Level: "info", Format: "auto"},
		Server:   ServerConfig{Addr: ":50061"},
		Client: ClientConfig{
			Addr:           "localhost:50061",
			RequestsPerSec: 5,
			Burst:          5,
			MaxRetries:     5,
			RetryTimeout:   30 * time.Second,
			CacheSize:      128,
		},
		Stopping: stopping.DefaultConfig(),
	}
}

// #endregion defaults

// #region load
// Load reads the YAML file at path, or the first of SearchPaths that exists
// when path is empty, then applies environment overrides. A missing
// explicit path is an error; no file found by search is not.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		for _, name := range SearchPaths {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if path != "" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if m, err := stopping.ParseMetric(string(cfg.Stopping.Metric)); err == nil {
			cfg.Stopping.Metric = m
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from files (".env" when none given)
// into the process environment without overriding variables already set.
// Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Database.Driver = envOr("STOPCHECK_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = envOr("STOPCHECK_DB", c.Database.DSN)
	c.Log.Level = envOr("STOPCHECK_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("STOPCHECK_LOG_FORMAT", c.Log.Format)
	c.Server.Addr = envOr("STOPCHECK_ADDR", c.Server.Addr)
	c.Client.Addr = envOr("STOPCHECK_REMOTE", c.Client.Addr)

	if v := os.Getenv("STOPCHECK_RATE"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STOPCHECK_RATE: %w", err)
		}
		c.Client.RequestsPerSec = rps
	}
	return nil
}

// #endregion load

// #region validate
// Validate checks the default stopping policy and the database driver.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if err := c.Stopping.Validate(); err != nil {
		return fmt.Errorf("stopping: %w", err)
	}
	return nil
}

// ClientOptions converts the client section for remote.Dial.
func (c *Config) ClientOptions() remote.ClientOptions {
	return remote.ClientOptions{
		RequestsPerSec:  c.Client.RequestsPerSec,
		Burst:           c.Client.Burst,
		MaxRetries:      c.Client.MaxRetries,
		MaxRetryTimeout: c.Client.RetryTimeout,
		CacheSize:       c.Client.CacheSize,
	}
}

// #endregion validate

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
