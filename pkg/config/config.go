// Package config loads dbr's runtime configuration: the Redis-cluster
// seed hosts, connection policy, and the ambient logging/metrics
// settings shared by cmd/dbr-forwardd and cmd/dbr-bench.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority, bound by the caller via pflag/viper)
//  2. Environment variables (DBR_*), for keys the configuration file sets
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is dbr's static configuration: where the cluster lives, how
// long to wait on it, and how the process logs/exposes metrics.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus metrics HTTP endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Backend configures the Redis-cluster connection policy the engine
	// is built from.
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Forwarder configures cmd/dbr-forwardd's listening socket.
	Forwarder ForwarderConfig `mapstructure:"forwarder" yaml:"forwarder"`
}

// BackendConfig configures the Redis-cluster engine (spec §6's
// configuration environment: hosts, auth secret, operation/reconnect
// timeouts, plugin path).
type BackendConfig struct {
	// Hosts is the "sock://host:port" bootstrap list; the first entry is
	// dialed to discover the rest of the cluster via CLUSTER SLOTS.
	Hosts []string `mapstructure:"hosts" validate:"required,min=1,dive,required" yaml:"hosts"`

	// AuthSecretFile optionally names a file holding the shared secret
	// sent via AUTH on every connection. Kept out of the config file
	// itself so the secret never lands in a committed YAML document.
	AuthSecretFile string `mapstructure:"auth_secret_file" yaml:"auth_secret_file,omitempty"`

	// OperationTimeout bounds how long a posted request may sit at the
	// head of a connection's queue before it is failed "timed out".
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"required,gt=0" yaml:"operation_timeout"`

	// ReconnectInterval bounds how often a batch of failed connections is
	// retried.
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"required,gt=0" yaml:"reconnect_interval"`

	// PluginPath optionally names a Go plugin implementing the data
	// adapter interface (spec §6.2); empty disables it.
	PluginPath string `mapstructure:"plugin_path" yaml:"plugin_path,omitempty"`

	// SendBufSize and RecvBufSize size each connection's I/O buffers in
	// bytes; zero uses the engine's built-in defaults.
	SendBufSize int `mapstructure:"send_buf_size" validate:"omitempty,gt=0" yaml:"send_buf_size,omitempty"`
	RecvBufSize int `mapstructure:"recv_buf_size" validate:"omitempty,gt=0" yaml:"recv_buf_size,omitempty"`
}

// ForwarderConfig configures the upstream-facing TCP listener of
// cmd/dbr-forwardd (SPEC_FULL.md §6.1).
type ForwarderConfig struct {
	// ListenAddr is the "host:port" the forwarding daemon accepts
	// upstream client connections on.
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight connections to drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file
	// path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false, pkg/metrics/prometheus is never wired in and the
// engine runs with its no-op Metrics implementation.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from the file and the environment, fills in
// defaults for whatever is still unset, and validates the result.
// Environment variables override only keys the file sets. When no
// configuration file is found, Load returns DefaultConfig() without
// consulting the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		return DefaultConfig(), nil
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML, respecting yaml struct tags.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DBR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error: the caller falls back to defaults/environment.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dbr, falling back to
// ~/.config/dbr.
func getConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "dbr")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "dbr"
	}
	return filepath.Join(home, ".config", "dbr")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// AuthSecret reads the backend's shared secret from AuthSecretFile, or
// returns "" if none is configured.
func (c BackendConfig) AuthSecret() (string, error) {
	if c.AuthSecretFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.AuthSecretFile)
	if err != nil {
		return "", fmt.Errorf("reading auth secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
