package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBackendDefaults(&cfg.Backend)
	applyLocksDefaults(&cfg.Locks)
	applyPropFindDefaults(&cfg.PropFind)

	if cfg.Auth.Realm == "" {
		cfg.Auth.Realm = "gophdav"
	}
	if cfg.Secrets.Source == "" {
		cfg.Secrets.Source = "env"
	}
	if cfg.Reconcile.Type == "" {
		cfg.Reconcile.Type = "log"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
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

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = time.Hour
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.RateLimit > 0 && cfg.Burst == 0 {
		cfg.Burst = int(cfg.RateLimit)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
}

func applyLocksDefaults(cfg *LocksConfig) {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
}

func applyPropFindDefaults(cfg *PropFindConfig) {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 8
	}
	if cfg.Fanout == 0 {
		cfg.Fanout = 4
	}
}
