package config

import (
	"strings"
	"time"
)

// DefaultConfig returns a Config populated entirely with defaults: a
// single localhost seed node, 5s operation timeout, metrics disabled.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in any zero-valued fields with sensible defaults
// after a config file/environment pass has populated what it can.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyBackendDefaults(&cfg.Backend)
	applyForwarderDefaults(&cfg.Forwarder)
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

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyBackendDefaults(cfg *BackendConfig) {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []string{"redis://127.0.0.1:6379"}
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
}

func applyForwarderDefaults(cfg *ForwarderConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7000"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}
