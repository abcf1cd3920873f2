package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file. Ignored by the memory driver.
	Path string `yaml:"path"`
}

// CollectionConfig declares a calendar collection created at startup.
type CollectionConfig struct {
	Href        string `yaml:"href"`
	DisplayName string `yaml:"display_name"`
	// Timezone is the TZID floating times in this collection are read in.
	Timezone   string   `yaml:"timezone"`
	Components []string `yaml:"components"`
	// Import is a directory of .ics files loaded into the collection at startup.
	Import string `yaml:"import,omitempty"`
}

// Config is the top-level configuration of the calengine binary.
type Config struct {
	// Listen is the HTTP listen address used by "serve".
	Listen string `yaml:"listen"`
	// Prefix is the URL path the CalDAV tree is mounted under.
	Prefix string `yaml:"prefix"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Timezone is the TZID used for floating times when neither the
	// request nor the collection names one.
	Timezone string `yaml:"timezone"`

	MaxIterations int   `yaml:"max_iterations"`
	Concurrency   int   `yaml:"concurrency"`
	LenientDepth  bool  `yaml:"lenient_depth"`
	MaxBodySize   int64 `yaml:"max_body_size"`

	// ReadTimeout and ShutdownTimeout accept human durations such as "30s"
	// or "1m".
	ReadTimeout     string `yaml:"read_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// FreeBusySpan is the default window of the "freebusy" command, e.g. "1w".
	FreeBusySpan string `yaml:"freebusy_span"`

	Store       StoreConfig        `yaml:"store"`
	Collections []CollectionConfig `yaml:"collections"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:5232",
		Prefix:          "/dav",
		LogLevel:        "info",
		Timezone:        "UTC",
		MaxIterations:   50000,
		Concurrency:     8,
		MaxBodySize:     10 << 20,
		ReadTimeout:     "30s",
		ShutdownTimeout: "10s",
		FreeBusySpan:    "1w",
		Store:           StoreConfig{Driver: "memory"},
		Collections:     []CollectionConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	c.Prefix = "/" + strings.Trim(c.Prefix, "/")
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = def.MaxBodySize
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.FreeBusySpan == "" {
		c.FreeBusySpan = def.FreeBusySpan
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
		c.Store.Driver = "sqlite"
		if c.Store.Path == "" {
			c.Store.Path = "calengine.db"
		}
	default:
		// Unknown drivers fall back to memory.
		c.Store.Driver = "memory"
	}

	if c.Collections == nil {
		c.Collections = []CollectionConfig{}
	}
	for i := range c.Collections {
		col := &c.Collections[i]
		col.Href = "/" + strings.Trim(col.Href, "/") + "/"
		for j, comp := range col.Components {
			col.Components[j] = strings.ToUpper(strings.TrimSpace(comp))
		}
	}
}

// Validate reports configuration values that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := document.SystemResolver.Resolve(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	for _, d := range []struct{ name, value string }{
		{"read_timeout", c.ReadTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"freebusy_span", c.FreeBusySpan},
	} {
		if _, err := str2duration.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s %q: %w", d.name, d.value, err)
		}
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Href == "//" {
			return errors.New("collection href is empty")
		}
		if seen[col.Href] {
			return fmt.Errorf("collection %s declared twice", col.Href)
		}
		seen[col.Href] = true
		if col.Timezone != "" {
			if _, err := document.SystemResolver.Resolve(col.Timezone); err != nil {
				return fmt.Errorf("collection %s timezone %q: %w", col.Href, col.Timezone, err)
			}
		}
	}
	return nil
}

// Duration parses one of the duration fields. Invalid values yield fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := str2duration.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the YAML file at path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
