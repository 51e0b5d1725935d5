// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	Auth        AuthConfig              `yaml:"auth"`
	Logging     LoggingConfig           `yaml:"logging"`
	Preferences PreferencesConfig       `yaml:"preferences"`
	Broadcast   BroadcastConfig         `yaml:"broadcast"`
	Background  BackgroundConfig        `yaml:"background"`
	Filters     map[string]FilterConfig `yaml:"filters"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AuthConfig represents control API authentication.
type AuthConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// LoggingConfig represents logger configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output     string `yaml:"output" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50" validate:"gte=1,lte=1024"`
	MaxBackups int    `yaml:"max_backups" default:"3" validate:"gte=0,lte=100"`
}

// PreferencesConfig locates the persisted preference store.
type PreferencesConfig struct {
	Path string `yaml:"path" default:"config/preferences.ini" validate:"required"`
}

// BroadcastConfig represents broadcast fabric configuration.
type BroadcastConfig struct {
	DeliveryTimeoutMs int `yaml:"delivery_timeout_ms" default:"500" validate:"gte=10,lte=30000"`
	SubscriberBuffer  int `yaml:"subscriber_buffer" default:"64" validate:"gte=1,lte=10000"`
}

// BackgroundConfig represents background context launch configuration.
type BackgroundConfig struct {
	LaunchRetries  int `yaml:"launch_retries" default:"3" validate:"gte=0,lte=10"`
	RetryBackoffMs int `yaml:"retry_backoff_ms" default:"1000" validate:"gte=0,lte=60000"`
	StartupDelayMs int `yaml:"startup_delay_ms" default:"0" validate:"gte=0,lte=60000"`
}

// FilterConfig represents a screening filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML content.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("CALLRELAY_TOKEN"); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv("CALLRELAY_PREFERENCES"); v != "" {
		c.Preferences.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// DeliveryTimeout returns the per-receiver broadcast delivery timeout.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Broadcast.DeliveryTimeoutMs) * time.Millisecond
}

// RetryBackoff returns the base delay between background launch attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Background.RetryBackoffMs) * time.Millisecond
}

// StartupDelay returns the delay before a scheduled background startup.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Background.StartupDelayMs) * time.Millisecond
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilters returns the settings of every enabled filter keyed by name.
func (c *Config) EnabledFilters() map[string]map[string]any {
	enabled := make(map[string]map[string]any)
	for name, f := range c.Filters {
		if f.Enabled {
			enabled[name] = f.Settings
		}
	}
	return enabled
}
