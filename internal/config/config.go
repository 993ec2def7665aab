// Package config loads server settings from an optional TOML file and the
// environment. Environment variables override the file; anything left
// unset falls back to the defaults below.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/fee"
)

const (
	DefaultPort             = "8080"
	DefaultCacheTTL         = 30 * time.Second
	DefaultSweepInterval    = 10 * time.Second
	DefaultSweepConcurrency = 8
	DefaultLogFormat        = "json"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Config struct {
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	NATS   NATSConfig   `toml:"nats"`
	Sweep  SweepConfig  `toml:"sweep"`
	Fee    FeeConfig    `toml:"fee"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

// StoreConfig selects the backing store. An empty DatabaseURL means the
// in-memory store; RedisURL only applies on top of Postgres.
type StoreConfig struct {
	DatabaseURL string   `toml:"database_url"`
	RedisURL    string   `toml:"redis_url"`
	CacheTTL    Duration `toml:"cache_ttl"`
}

type NATSConfig struct {
	URL string `toml:"url"`
}

type SweepConfig struct {
	Interval    Duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
}

type FeeConfig struct {
	Rate *decimal.Decimal `toml:"rate"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// Load reads the TOML file at path (skipped when path is empty), applies
// environment overrides through getenv, fills defaults and validates.
func Load(path string, getenv func(string) string) (*Config, error) {
	var cfg Config
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Server.Port)
	setString("DATABASE_URL", &c.Store.DatabaseURL)
	setString("REDIS_URL", &c.Store.RedisURL)
	setString("NATS_URL", &c.NATS.URL)
	setString("LOG_FORMAT", &c.Log.Format)

	for key, dst := range map[string]*Duration{
		"CACHE_TTL":      &c.Store.CacheTTL,
		"SWEEP_INTERVAL": &c.Sweep.Interval,
	} {
		if v := getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	if v := getenv("SWEEP_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SWEEP_CONCURRENCY: %w", err)
		}
		c.Sweep.Concurrency = n
	}
	if v := getenv("FEE_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("FEE_RATE: %w", err)
		}
		c.Fee.Rate = &rate
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		if err := c.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Store.CacheTTL == 0 {
		c.Store.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = Duration(DefaultSweepInterval)
	}
	if c.Sweep.Concurrency == 0 {
		c.Sweep.Concurrency = DefaultSweepConcurrency
	}
	if c.Fee.Rate == nil {
		rate := fee.DefaultRate
		c.Fee.Rate = &rate
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port %q", ErrInvalid, c.Server.Port)
	}
	if c.Store.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive", ErrInvalid)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalid)
	}
	if c.Sweep.Concurrency <= 0 {
		return fmt.Errorf("%w: sweep concurrency must be positive", ErrInvalid)
	}
	if c.Fee.Rate != nil {
		if _, err := fee.NewSchedule(*c.Fee.Rate); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// FeeSchedule builds the settlement fee schedule from the configured rate.
func (c *Config) FeeSchedule() (*fee.Schedule, error) {
	if c.Fee.Rate == nil {
		return fee.Default(), nil
	}
	return fee.NewSchedule(*c.Fee.Rate)
}

// NewLogger builds the process logger described by the log settings.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level, AddSource: c.AddSource}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
