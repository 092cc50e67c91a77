// Package config handles application configuration from an optional YAML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ai_feed/internal/model"
)

const (
	defaultFetchInterval     = time.Hour
	defaultRequestsPerMinute = 60
)

// Config holds the application configuration.
type Config struct {
	DatabasePath   string               `yaml:"database_path"`
	LogLevel       string               `yaml:"log_level"`
	LogFormat      string               `yaml:"log_format"`
	HTTPAddr       string               `yaml:"http_addr"`
	LockPath       string               `yaml:"lock_path"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Categorization CategorizationConfig `yaml:"categorization"`
	Sources        []SourceSeed         `yaml:"sources"`
	Providers      []ProviderSeed       `yaml:"providers"`
}

// SchedulerConfig tunes the ingestion loop.
type SchedulerConfig struct {
	Interval             time.Duration `yaml:"interval"`
	ErrorCooldown        time.Duration `yaml:"error_cooldown"`
	Workers              int           `yaml:"workers"`
	StaleProcessingAfter time.Duration `yaml:"stale_processing_after"`
}

// CategorizationConfig tunes the AI categorization step.
type CategorizationConfig struct {
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`
}

// SourceSeed declares a feed that is upserted by URL on startup.
type SourceSeed struct {
	Name          string        `yaml:"name"`
	URL           string        `yaml:"url"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
	Active        *bool         `yaml:"active"`
}

// ProviderSeed declares an AI backend that is upserted by name on startup.
type ProviderSeed struct {
	Name                 string         `yaml:"name"`
	Type                 string         `yaml:"type"`
	APIKey               string         `yaml:"api_key"`
	APIKeyEnv            string         `yaml:"api_key_env"`
	BaseURL              string         `yaml:"base_url"`
	Model                string         `yaml:"model"`
	Priority             int            `yaml:"priority"`
	Active               *bool          `yaml:"active"`
	MaxRequestsPerMinute int            `yaml:"max_requests_per_minute"`
	Options              map[string]any `yaml:"options"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabasePath: "./data/aifeed.db",
		LogLevel:     "info",
		LogFormat:    "text",
		LockPath:     "./data/aifeed.lock",
		Scheduler: SchedulerConfig{
			Interval:             5 * time.Minute,
			ErrorCooldown:        time.Minute,
			Workers:              3,
			StaleProcessingAfter: 15 * time.Minute,
		},
		Categorization: CategorizationConfig{
			BatchSize:  10,
			MaxRetries: 3,
		},
	}
}

// Load reads the YAML file named by CONFIG_PATH (if set) over the defaults,
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.LockPath, "LOCK_PATH")

	for key, dst := range map[string]*time.Duration{
		"POLL_INTERVAL":          &c.Scheduler.Interval,
		"ERROR_COOLDOWN":         &c.Scheduler.ErrorCooldown,
		"STALE_PROCESSING_AFTER": &c.Scheduler.StaleProcessingAfter,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q in %s: %w", raw, key, err)
		}
		*dst = d
	}

	for key, dst := range map[string]*int{
		"WORKERS":     &c.Scheduler.Workers,
		"BATCH_SIZE":  &c.Categorization.BatchSize,
		"MAX_RETRIES": &c.Categorization.MaxRetries,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid number %q in %s: %w", raw, key, err)
		}
		*dst = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Scheduler.Interval <= 0 || c.Scheduler.ErrorCooldown <= 0 {
		return fmt.Errorf("scheduler interval and error cooldown must be positive")
	}
	if c.Scheduler.StaleProcessingAfter < 0 {
		return fmt.Errorf("stale processing timeout must not be negative")
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Scheduler.Workers)
	}
	if c.Categorization.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.Categorization.BatchSize)
	}
	if c.Categorization.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.Categorization.MaxRetries)
	}

	for i, s := range c.Sources {
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("source %d: url is required", i)
		}
		if s.FetchInterval < 0 {
			return fmt.Errorf("source %s: negative fetch interval", s.URL)
		}
	}
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if !model.ProviderType(strings.ToLower(p.Type)).Valid() {
			return fmt.Errorf("provider %s: unsupported type %q", p.Name, p.Type)
		}
		if p.MaxRequestsPerMinute < 0 {
			return fmt.Errorf("provider %s: negative request ceiling", p.Name)
		}
	}
	return nil
}

// Source converts the seed into a model.Source ready to upsert.
func (s SourceSeed) Source() model.Source {
	interval := s.FetchInterval
	if interval <= 0 {
		interval = defaultFetchInterval
	}
	name := s.Name
	if name == "" {
		name = s.URL
	}
	return model.Source{
		Name:                 name,
		URL:                  strings.TrimSpace(s.URL),
		IsActive:             s.Active == nil || *s.Active,
		FetchIntervalSeconds: int(interval / time.Second),
	}
}

// Provider converts the seed into a model.Provider ready to upsert.
// The key named by APIKeyEnv wins over an inline APIKey.
func (p ProviderSeed) Provider() model.Provider {
	key := p.APIKey
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			key = v
		}
	}
	limit := p.MaxRequestsPerMinute
	if limit == 0 {
		limit = defaultRequestsPerMinute
	}
	return model.Provider{
		Name:                 p.Name,
		Type:                 model.ProviderType(strings.ToLower(p.Type)),
		APIKey:               key,
		BaseURL:              p.BaseURL,
		Model:                p.Model,
		Priority:             p.Priority,
		IsActive:             p.Active == nil || *p.Active,
		MaxRequestsPerMinute: limit,
		Options:              model.ProviderOptions(p.Options),
	}
}
