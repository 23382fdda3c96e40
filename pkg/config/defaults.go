package config

import (
	"strings"
	"time"
)

// Defaults. The lease values match the coordination defaults in
// pkg/coord/session.
const (
	DefaultListenAddr       = ":7680"
	DefaultBrokerListenAddr = ":7681"
	DefaultAPIListenAddr    = ":7682"

	DefaultShutdownTimeout = 30 * time.Second
	DefaultLeaseDuration   = 30 * time.Second
	DefaultSweepInterval   = 1 * time.Second
	DefaultGraceMargin     = 500 * time.Millisecond
	DefaultMaxLockWaiters  = 1000
	DefaultRequestTimeout  = 10 * time.Second
)

// ApplyDefaults fills in zero-valued fields. Explicit values are never
// overridden.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Lease.Duration <= 0 {
		cfg.Lease.Duration = DefaultLeaseDuration
	}
	if cfg.Lease.SweepInterval <= 0 {
		cfg.Lease.SweepInterval = DefaultSweepInterval
	}
	if cfg.Lease.GraceMargin <= 0 {
		cfg.Lease.GraceMargin = DefaultGraceMargin
	}

	if cfg.Lock.MaxWaiters <= 0 {
		cfg.Lock.MaxWaiters = DefaultMaxLockWaiters
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "badger"
	}
	if cfg.Store.Backend == "badger" && cfg.Store.Dir == "" {
		cfg.Store.Dir = "/var/lib/aerie/namespace"
	}

	if cfg.Broker.ListenAddr == "" {
		cfg.Broker.ListenAddr = DefaultBrokerListenAddr
	}

	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = DefaultAPIListenAddr
	}
	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = DefaultRequestTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.API.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}
