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
	Server     ServerConfig     `yaml:"server"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Database   DatabaseConfig   `yaml:"database"`
	Matchmaker MatchmakerConfig `yaml:"matchmaker"`
	HoldMusic  []string         `yaml:"hold_music"`
	Messages   MessagesConfig   `yaml:"messages"`
	Locator    LocatorConfig    `yaml:"locator"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// TwilioConfig represents carrier API configuration. Credentials are
// injected into the gateway at construction time; nothing reads them
// from global state.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" validate:"required"`
	AuthToken  string `yaml:"auth_token" validate:"required"`
	// BaseURL is the publicly reachable root the carrier posts webhook
	// events to, e.g. a tunnel URL during development.
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

// DatabaseConfig represents record store configuration.
type DatabaseConfig struct {
	Driver string `yaml:"driver" default:"memory" validate:"oneof=memory postgres"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// MatchmakerConfig represents pairing configuration.
type MatchmakerConfig struct {
	MaxWaitSec     int   `yaml:"max_wait_sec" default:"60" validate:"gte=1"`
	IntervalSec    int   `yaml:"interval_sec" default:"10" validate:"gte=1"`
	PassTimeoutSec int   `yaml:"pass_timeout_sec" default:"30" validate:"gte=1"`
	Seed           int64 `yaml:"seed"`
}

// MaxWait returns the wait-time threshold as a duration.
func (c MatchmakerConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSec) * time.Second
}

// Interval returns the pass interval as a duration.
func (c MatchmakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// PassTimeout returns the pass sanity bound as a duration.
func (c MatchmakerConfig) PassTimeout() time.Duration {
	return time.Duration(c.PassTimeoutSec) * time.Second
}

// MessagesConfig represents user-facing script lines.
type MessagesConfig struct {
	Greeting       string `yaml:"greeting" default:"Connecting you to someone"`
	WaitingGoodbye string `yaml:"waiting_goodbye" default:"You've been waiting way too long! Goodbye"`
	TimedOut       string `yaml:"timed_out" default:"Sorry we couldn't find someone for you. Please call back later and try again"`
	TalkingTo      string `yaml:"talking_to" default:"You are talking to %s... Press star to skip."`
	Failure        string `yaml:"failure" default:"Sorry, something went wrong. Please call back later."`
}

// LocatorConfig represents caller display-label configuration.
type LocatorConfig struct {
	Type     string         `yaml:"type" default:"caller_metadata"`
	Settings map[string]any `yaml:"settings"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		c.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		c.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_TUNNEL_URL"); v != "" {
		c.Twilio.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
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
