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
	Server   ServerConfig   `yaml:"server"`
	Player   PlayerConfig   `yaml:"player"`
	Resolver ResolverConfig `yaml:"resolver"`
	Playback PlaybackConfig `yaml:"playback"`
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":5000"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlayerConfig represents the supervised player configuration.
type PlayerConfig struct {
	Binary           string   `yaml:"binary" default:"mpv"`
	Socket           string   `yaml:"socket" default:"/tmp/mpv_socket"`
	CommandTimeoutMs int      `yaml:"command_timeout_ms" default:"2000" validate:"gte=100,lte=30000"`
	StartWaitMs      int      `yaml:"start_wait_ms" default:"100" validate:"gte=10,lte=5000"`
	StartAttempts    int      `yaml:"start_attempts" default:"10" validate:"gte=1,lte=100"`
	Volume           int      `yaml:"volume" default:"50" validate:"gte=0,lte=100"`
	ExtraArgs        []string `yaml:"extra_args"`
}

// ResolverConfig represents the resolver service configuration.
type ResolverConfig struct {
	URL       string `yaml:"url" validate:"required,url"`
	TimeoutMs int    `yaml:"timeout_ms" default:"30000" validate:"gte=1000,lte=300000"`
}

// PlaybackConfig represents playback engine configuration.
type PlaybackConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" default:"500" validate:"gte=100,lte=10000"`
	// Pointer so an explicit false survives the defaults pass.
	Autoplay *bool `yaml:"autoplay" default:"true"`
}

// CommandTimeout returns the player IPC deadline.
func (c PlayerConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

// StartWait returns the delay between socket-appearance polls.
func (c PlayerConfig) StartWait() time.Duration {
	return time.Duration(c.StartWaitMs) * time.Millisecond
}

// Timeout returns the per-resolution deadline.
func (c ResolverConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PollInterval returns the state poll interval.
func (c PlaybackConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// AutoplayEnabled returns the configured autoplay flag.
func (c PlaybackConfig) AutoplayEnabled() bool {
	return c.Autoplay == nil || *c.Autoplay
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

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
	if v := os.Getenv("RESOLVER_URL"); v != "" {
		c.Resolver.URL = v
	}
	if v := os.Getenv("TUNEBOX_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MPV_SOCKET"); v != "" {
		c.Player.Socket = v
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
