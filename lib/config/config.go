// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "THREADSYNC_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Match modes accepted in reconcile.match_mode.
const (
	MatchCorrelationThenHeuristic = "correlation_then_heuristic"
	MatchHeuristic                = "heuristic"
	MatchCorrelation              = "correlation"
)

var (
	matchModes   = []string{MatchCorrelationThenHeuristic, MatchHeuristic, MatchCorrelation}
	compressions = []string{"auto", "lz4", "zstd", "none"}
)

// Config is the sync engine configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Store      StoreConfig      `yaml:"store"`
	Pagination PaginationConfig `yaml:"pagination"`
	API        APIConfig        `yaml:"api"`
	Stream     StreamConfig     `yaml:"stream"`
	Log        LogConfig        `yaml:"log"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Reconcile  *ReconcileConfig  `yaml:"reconcile,omitempty"`
	Store      *StoreConfig      `yaml:"store,omitempty"`
	Pagination *PaginationConfig `yaml:"pagination,omitempty"`
	API        *APIConfig        `yaml:"api,omitempty"`
	Stream     *StreamConfig     `yaml:"stream,omitempty"`
	Log        *LogConfig        `yaml:"log,omitempty"`
}

// ReconcileConfig configures matching of confirmations to optimistic
// records.
type ReconcileConfig struct {
	// DedupWindow bounds how far apart an optimistic record and its
	// confirmation may be, and how long an unconfirmed record stays
	// pending. Default: 30s
	DedupWindow time.Duration `yaml:"dedup_window"`

	// MatchMode is correlation_then_heuristic, heuristic, or
	// correlation. Default: correlation_then_heuristic
	MatchMode string `yaml:"match_mode"`

	// SweepInterval is how often stale optimistic records are
	// expired. Default: 5s
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StoreConfig configures the per-scope record stores.
type StoreConfig struct {
	// FailedRecordLimit bounds the failed records kept for retry.
	// Default: 50
	FailedRecordLimit int `yaml:"failed_record_limit"`

	// SnapshotCompression is auto, lz4, zstd, or none. Default: auto
	SnapshotCompression string `yaml:"snapshot_compression"`
}

// PaginationConfig configures thread paging.
type PaginationConfig struct {
	// PageSize is the number of replies per request. Default: 20
	PageSize int `yaml:"page_size"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	// BaseURL is the backend origin, for example https://chat.example.com.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each request. Default: 15s
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig configures the live subscription.
type StreamConfig struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// MaxRetries is the number of consecutive failures tolerated
	// before giving up. Default: 5
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the pause between reconnect attempts. Default: 1s
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info
	Level string `yaml:"level"`
}

// SlogLevel returns Level as a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Default returns the default configuration. The defaults give every
// field a usable value; the config file is still required by Load.
func Default() *Config {
	return &Config{
		Environment: Development,
		Reconcile: ReconcileConfig{
			DedupWindow:   30 * time.Second,
			MatchMode:     MatchCorrelationThenHeuristic,
			SweepInterval: 5 * time.Second,
		},
		Store: StoreConfig{
			FailedRecordLimit:   50,
			SnapshotCompression: "auto",
		},
		Pagination: PaginationConfig{
			PageSize: 20,
		},
		API: APIConfig{
			Timeout: 15 * time.Second,
		},
		Stream: StreamConfig{
			MaxRetries: 5,
			RetryDelay: time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by THREADSYNC_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your threadsync.yaml config file", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path and applies
// the section for the configured environment. Environment variables
// do not override file values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// loadFile decodes one file over the current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section for c.Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never runs on the heuristic alone unless asked to.
		if overrides == nil {
			overrides = &ConfigOverrides{}
		}
		if overrides.Reconcile == nil || overrides.Reconcile.MatchMode == "" {
			c.Reconcile.MatchMode = MatchCorrelationThenHeuristic
		}
	}

	if overrides == nil {
		return
	}

	if o := overrides.Reconcile; o != nil {
		if o.DedupWindow != 0 {
			c.Reconcile.DedupWindow = o.DedupWindow
		}
		if o.MatchMode != "" {
			c.Reconcile.MatchMode = o.MatchMode
		}
		if o.SweepInterval != 0 {
			c.Reconcile.SweepInterval = o.SweepInterval
		}
	}

	if o := overrides.Store; o != nil {
		if o.FailedRecordLimit != 0 {
			c.Store.FailedRecordLimit = o.FailedRecordLimit
		}
		if o.SnapshotCompression != "" {
			c.Store.SnapshotCompression = o.SnapshotCompression
		}
	}

	if o := overrides.Pagination; o != nil && o.PageSize != 0 {
		c.Pagination.PageSize = o.PageSize
	}

	if o := overrides.API; o != nil {
		if o.BaseURL != "" {
			c.API.BaseURL = o.BaseURL
		}
		if o.Timeout != 0 {
			c.API.Timeout = o.Timeout
		}
	}

	if o := overrides.Stream; o != nil {
		if o.URL != "" {
			c.Stream.URL = o.URL
		}
		if o.MaxRetries != 0 {
			c.Stream.MaxRetries = o.MaxRetries
		}
		if o.RetryDelay != 0 {
			c.Stream.RetryDelay = o.RetryDelay
		}
	}

	if o := overrides.Log; o != nil && o.Level != "" {
		c.Log.Level = o.Level
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Reconcile.DedupWindow <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.dedup_window must be positive"))
	}
	if !slices.Contains(matchModes, c.Reconcile.MatchMode) {
		errs = append(errs, fmt.Errorf("reconcile.match_mode must be one of: %v", matchModes))
	}
	if c.Reconcile.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.sweep_interval must be positive"))
	}

	if c.Store.FailedRecordLimit <= 0 {
		errs = append(errs, fmt.Errorf("store.failed_record_limit must be positive"))
	}
	if !slices.Contains(compressions, c.Store.SnapshotCompression) {
		errs = append(errs, fmt.Errorf("store.snapshot_compression must be one of: %v", compressions))
	}

	if c.Pagination.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("pagination.page_size must be positive"))
	}

	if c.API.BaseURL != "" {
		if parsed, err := url.Parse(c.API.BaseURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			errs = append(errs, fmt.Errorf("api.base_url must be an http or https URL"))
		}
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive"))
	}

	if c.Stream.URL != "" {
		if parsed, err := url.Parse(c.Stream.URL); err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("stream.url must be a ws or wss URL"))
		}
	}
	if c.Stream.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("stream.max_retries must be positive"))
	}
	if c.Stream.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("stream.retry_delay must be positive"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
