// Package config handles application configuration from environment variables
// and the facilities file
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	Timezone  string `env:"TIMEZONE" envDefault:"America/New_York"`

	// FacilitiesFile is a YAML file; empty means the built-in list
	FacilitiesFile string `env:"FACILITIES_FILE"`
	// TemplatePath overrides the built-in bootstrap document
	TemplatePath string `env:"TEMPLATE_PATH"`

	SnapshotTTL     time.Duration `env:"SNAPSHOT_TTL" envDefault:"1m"`
	HoursTTL        time.Duration `env:"HOURS_TTL" envDefault:"1h"`
	BootstrapTTL    time.Duration `env:"BOOTSTRAP_TTL" envDefault:"1m"`
	BootstrapDays   int           `env:"BOOTSTRAP_DAYS" envDefault:"8"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
	RenderTimeout   time.Duration `env:"RENDER_TIMEOUT" envDefault:"30s"`
	PopulateTimeout time.Duration `env:"POPULATE_TIMEOUT" envDefault:"45s"`
	FetchRetries    int           `env:"FETCH_RETRIES" envDefault:"2"`
	UserAgent       string        `env:"USER_AGENT" envDefault:"roomwatch/1.0 (+https://github.com/briangreenhill/roomwatch)"`

	// ChromeWSURL points at a running Chrome DevTools endpoint. When empty a
	// local headless Chrome is started.
	ChromeWSURL string `env:"CHROME_WS_URL"`

	// RedisAddr enables scheduled cache warming through asynq
	RedisAddr    string `env:"REDIS_ADDR"`
	WarmSchedule string `env:"WARM_SCHEDULE" envDefault:"@every 50s"`

	location   *time.Location
	facilities []Facility
}

// Load reads configuration from the process environment
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from environ, or from the process environment
// when environ is nil.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc

	lookup := os.Getenv
	if environ != nil {
		lookup = func(k string) string { return environ[k] }
	}
	raw := defaultFacilities
	if cfg.FacilitiesFile != "" {
		if raw, err = os.ReadFile(cfg.FacilitiesFile); err != nil {
			return nil, fmt.Errorf("read facilities: %w", err)
		}
	}
	cfg.facilities, err = ParseFacilities(raw, lookup)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location is the zone that defines "today" for date keys
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Facilities returns the configured facilities in display order
func (c *Config) Facilities() []Facility {
	return c.facilities
}

// HasWarming returns true if scheduled cache warming is configured
func (c *Config) HasWarming() bool {
	return c.RedisAddr != ""
}

// Validate checks the env-derived settings
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.BootstrapDays < 1 || c.BootstrapDays > 31 {
		return fmt.Errorf("BOOTSTRAP_DAYS must be between 1-31, got %d", c.BootstrapDays)
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("FETCH_RETRIES must not be negative, got %d", c.FetchRetries)
	}
	for name, d := range map[string]time.Duration{
		"SNAPSHOT_TTL":  c.SnapshotTTL,
		"HOURS_TTL":     c.HoursTTL,
		"BOOTSTRAP_TTL": c.BootstrapTTL,
		"FETCH_TIMEOUT": c.FetchTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}
