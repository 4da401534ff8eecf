// Package config loads tillbook settings from a YAML config file and
// TILLBOOK_* environment variables, with sensible defaults for everything
// except the device's branch identity.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DBConfig locates the local ledger database.
type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// APIConfig points at the POS backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MarshalYAML writes the timeout as a duration string ("10s"), not raw
// nanoseconds. Load parses either form.
func (c APIConfig) MarshalYAML() (any, error) {
	return struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	}{c.BaseURL, c.Timeout.String()}, nil
}

// GateConfig points at the connectivity liveness endpoint.
type GateConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// MarshalYAML writes the retry interval as a duration string.
func (c GateConfig) MarshalYAML() (any, error) {
	return struct {
		URL           string `yaml:"url"`
		RetryInterval string `yaml:"retry_interval"`
	}{c.URL, c.RetryInterval.String()}, nil
}

// SyncConfig tunes the reconciler's drain retries.
type SyncConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// MarshalYAML writes the backoffs as duration strings.
func (c SyncConfig) MarshalYAML() (any, error) {
	return struct {
		MaxAttempts    int    `yaml:"max_attempts"`
		InitialBackoff string `yaml:"initial_backoff"`
		MaxBackoff     string `yaml:"max_backoff"`
	}{c.MaxAttempts, c.InitialBackoff.String(), c.MaxBackoff.String()}, nil
}

// LogConfig configures the rotating diagnostics log.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Config is the full tillbook configuration.
type Config struct {
	BranchID string `mapstructure:"branch_id" yaml:"branch_id"`
	BrandID  string `mapstructure:"brand_id" yaml:"brand_id"`
	DeviceID string `mapstructure:"device_id" yaml:"device_id"`
	Operator string `mapstructure:"operator" yaml:"operator"`

	DB   DBConfig   `mapstructure:"db" yaml:"db"`
	API  APIConfig  `mapstructure:"api" yaml:"api"`
	Gate GateConfig `mapstructure:"gate" yaml:"gate"`
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`
	Log  LogConfig  `mapstructure:"log" yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB: DBConfig{Path: ".tillbook/ledger.db"},
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Gate: GateConfig{
			URL:           "ws://localhost:8080/ws",
			RetryInterval: 3 * time.Second,
		},
		Sync: SyncConfig{
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     time.Minute,
		},
		Log: LogConfig{
			File:       ".tillbook/tillbook.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from the given file (optional), the standard
// search paths, and TILLBOOK_* environment variables.
//
// A missing config file is not an error; everything has defaults except
// branch_id, which callers validate when they actually need it.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	// Identity keys default to empty but must be registered so the
	// TILLBOOK_* environment lookup sees them.
	v.SetDefault("branch_id", "")
	v.SetDefault("brand_id", "")
	v.SetDefault("device_id", "")
	v.SetDefault("operator", "")
	v.SetDefault("db.path", def.DB.Path)
	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout", def.API.Timeout)
	v.SetDefault("gate.url", def.Gate.URL)
	v.SetDefault("gate.retry_interval", def.Gate.RetryInterval)
	v.SetDefault("sync.max_attempts", def.Sync.MaxAttempts)
	v.SetDefault("sync.initial_backoff", def.Sync.InitialBackoff)
	v.SetDefault("sync.max_backoff", def.Sync.MaxBackoff)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tillbook")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tillbook"))
		}
	}

	v.SetEnvPrefix("TILLBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file anywhere; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Write saves the configuration as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
