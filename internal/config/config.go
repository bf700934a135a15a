// Package config loads the gateway configuration.
//
// Sources, highest precedence first:
//  1. CLI flags bound by the caller
//  2. Environment variables (GOPHDAV_*, "." replaced by "_")
//  3. Configuration file (YAML)
//  4. Defaults (ApplyDefaults)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. GOPHDAV_LOGGING_LEVEL.
const EnvPrefix = "GOPHDAV"

// Config is the complete gateway configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Locks     LocksConfig     `mapstructure:"locks"`
	PropFind  PropFindConfig  `mapstructure:"propfind"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" validate:"required"`
	Prefix          string        `mapstructure:"prefix"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// BackendConfig selects the file-storage collaborator.
//
// Only the section matching Type is decoded; see CreateBackend.
type BackendConfig struct {
	Type           string        `mapstructure:"type" validate:"required,oneof=rest googledrive memory"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout" validate:"gte=0"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"gt=0"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst          int           `mapstructure:"burst" validate:"gte=0"`

	Rest        map[string]any `mapstructure:"rest"`
	GoogleDrive map[string]any `mapstructure:"googledrive"`
	Memory      map[string]any `mapstructure:"memory"`
}

// LocksConfig bounds lock lifetimes.
type LocksConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout" validate:"gt=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// PropFindConfig bounds PROPFIND traversal.
type PropFindConfig struct {
	MaxDepth int `mapstructure:"max_depth" validate:"gte=1,lte=64"`
	Fanout   int `mapstructure:"fanout" validate:"gte=1"`
}

// AuthConfig enables the Basic credentials exchange against the identity service.
type AuthConfig struct {
	Basic             bool   `mapstructure:"basic"`
	Realm             string `mapstructure:"realm"`
	TokenURL          string `mapstructure:"token_url" validate:"omitempty,url"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecretParam string `mapstructure:"client_secret_param"`
}

// SecretsConfig selects where secret parameters are resolved.
type SecretsConfig struct {
	Source string `mapstructure:"source" validate:"required,oneof=env ssm"`
}

// ReconcileConfig selects where orphaned duplicates are journaled.
type ReconcileConfig struct {
	Type     string         `mapstructure:"type" validate:"required,oneof=log dynamodb"`
	DynamoDB map[string]any `mapstructure:"dynamodb"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// SecurityConfig holds edge-protection settings.
type SecurityConfig struct {
	// OriginVerifyParam names the secret expected in X-Origin-Verify. Empty disables the check.
	OriginVerifyParam string `mapstructure:"origin_verify_param"`
}

// Load reads configuration from file and environment, applies defaults and validates.
// An empty configPath searches the default location; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	return LoadWith(v, configPath)
}

// LoadWith is Load on a caller-provided viper instance, so flags bound with
// v.BindPFlag take precedence.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only affects keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.listen", "server.prefix",
	"backend.type", "backend.timeout", "backend.upload_timeout", "backend.max_concurrency",
	"backend.rate_limit", "backend.burst",
	"backend.rest.base_url", "backend.googledrive.endpoint", "backend.memory.jwt_secret",
	"locks.default_timeout", "locks.max_timeout", "locks.sweep_interval",
	"propfind.max_depth", "propfind.fanout",
	"auth.basic", "auth.token_url", "auth.client_id", "auth.client_secret_param",
	"secrets.source",
	"reconcile.type", "reconcile.dynamodb.table",
	"metrics.enabled", "metrics.path",
	"security.origin_verify_param",
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/gophdav, ~/.config/gophdav, or ".".
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gophdav")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gophdav")
}

// DefaultConfigPath returns the file Load reads when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
