// Package config loads and validates the aeried configuration.
//
// Sources, in order of precedence: environment variables (AERIE_*),
// configuration file (YAML), defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete aeried configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the coordination protocol listener.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Lease configures session lease handling.
	Lease LeaseConfig `mapstructure:"lease" yaml:"lease"`

	// Lock configures the lock manager.
	Lock LockConfig `mapstructure:"lock" yaml:"lock"`

	// Store configures the namespace store.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Broker configures the DFS broker.
	Broker BrokerConfig `mapstructure:"broker" yaml:"broker"`

	// Metrics configures Prometheus metrics collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the admin HTTP server.
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the coordination protocol listener.
type ServerConfig struct {
	// ListenAddr is the coordination protocol bind address.
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LeaseConfig configures session lease handling.
type LeaseConfig struct {
	// Duration is the lease window renewed by each keepalive.
	Duration time.Duration `mapstructure:"duration" validate:"required,gt=0" yaml:"duration"`

	// GraceMargin is added to the deadline on the expiry comparison.
	GraceMargin time.Duration `mapstructure:"grace_margin" validate:"gte=0" yaml:"grace_margin"`

	// SweepInterval is the expiry sweep period.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required,gt=0" yaml:"sweep_interval"`
}

// LockConfig configures the lock manager.
type LockConfig struct {
	// MaxWaiters bounds each node's lock wait queue.
	MaxWaiters int `mapstructure:"max_waiters" validate:"gt=0" yaml:"max_waiters"`
}

// StoreConfig configures the namespace store.
type StoreConfig struct {
	// Backend is "badger" (durable) or "memory" (volatile).
	Backend string `mapstructure:"backend" validate:"required,oneof=badger memory" yaml:"backend"`

	// Dir is the badger data directory. Required for the badger backend.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// BrokerConfig configures the DFS broker.
type BrokerConfig struct {
	// Enabled controls whether the broker listener starts.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the broker bind address.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// RootDir is the directory the broker serves files from.
	RootDir string `mapstructure:"root_dir" yaml:"root_dir"`
}

// MetricsConfig configures Prometheus metrics. When disabled, no
// metrics are collected.
type MetricsConfig struct {
	// Enabled controls metrics collection and the /metrics endpoint.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// APIConfig configures the admin HTTP server.
type APIConfig struct {
	// Enabled controls whether the admin server starts.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the admin HTTP bind address.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// RequestTimeout bounds each admin request.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Load loads configuration from file, environment, and defaults. An
// empty configPath uses the default location; a missing file yields
// pure defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against struct tags plus the
// cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Store.Backend == "badger" && cfg.Store.Dir == "" {
		return fmt.Errorf("store.dir is required for the badger backend")
	}
	if cfg.Broker.Enabled && cfg.Broker.RootDir == "" {
		return fmt.Errorf("broker.root_dir is required when the broker is enabled")
	}
	return nil
}

// Save writes the configuration to path in YAML, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// AERIE_LOGGING_LEVEL=DEBUG and friends.
	v.SetEnvPrefix("AERIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(DefaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

// decodeHooks converts config-file strings into typed fields, currently
// just duration parsing ("30s", "5m").
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/aerie or ~/.config/aerie.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "aerie")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "aerie")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
