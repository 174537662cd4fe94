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
	Discord  DiscordConfig  `yaml:"discord"`
	Playback PlaybackConfig `yaml:"playback"`
	Resolver ResolverConfig `yaml:"resolver"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// DiscordConfig represents Discord gateway configuration.
type DiscordConfig struct {
	Token   string `yaml:"token" validate:"required"`
	GuildID string `yaml:"guild_id"` // Restrict command registration to one guild (dev mode)
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	ResolveTimeoutSec int    `yaml:"resolve_timeout_sec" default:"20" validate:"gte=1,lte=300"`
	FailureBackoffMs  int    `yaml:"failure_backoff_ms" default:"1000" validate:"gte=0,lte=60000"`
	FFmpegPath        string `yaml:"ffmpeg_path" default:"ffmpeg"`
}

// ResolverConfig represents media resolver configuration.
type ResolverConfig struct {
	YtdlpPath   string         `yaml:"ytdlp_path" default:"yt-dlp"`
	SearchCount int            `yaml:"search_count" default:"1" validate:"gte=1,lte=10"`
	Settings    map[string]any `yaml:"settings,omitempty"` // Free-form extractor options (see ytdlp.Options)
}

// WatchdogConfig represents inactivity monitoring configuration.
type WatchdogConfig struct {
	IntervalSec int `yaml:"interval_sec" default:"60" validate:"gte=5,lte=3600"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
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
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_GUILD_ID"); v != "" {
		c.Discord.GuildID = v
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

// ResolveTimeout returns the materialization deadline as a duration.
func (c *Config) ResolveTimeout() time.Duration {
	return time.Duration(c.Playback.ResolveTimeoutSec) * time.Second
}

// FailureBackoff returns the post-failure pause as a duration.
func (c *Config) FailureBackoff() time.Duration {
	return time.Duration(c.Playback.FailureBackoffMs) * time.Millisecond
}

// WatchdogInterval returns the inactivity sweep interval as a duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.IntervalSec) * time.Second
}
