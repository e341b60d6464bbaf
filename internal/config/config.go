package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"calpresence/internal/scheduler"
)

// DefaultPath is where the config lives when no --config flag is given.
const DefaultPath = "/etc/calpresence/config.yaml"

const (
	defaultListen       = "127.0.0.1:8080"
	defaultPollInterval = "10s"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultTopicPrefix  = "calpresence"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// MQTTConfig enables the MQTT presence sink when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
}

// SNSConfig enables SNS presence notifications when TopicARN is set.
type SNSConfig struct {
	TopicARN string `yaml:"topic_arn" json:"topic_arn"`
}

// Config is the top-level application configuration.
type Config struct {
	// CalURL is the ICS feed. It is validated on each refresh, not here.
	CalURL string `yaml:"calurl" json:"calurl"`

	// Events are the device names whose presence is tracked.
	Events []string `yaml:"events" json:"events"`

	// Timezone is the IANA zone used when the feed declares none. Empty
	// means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Refresh is a cron expression (e.g. "@every 10m" or "*/10 * * * *").
	Refresh string `yaml:"refresh" json:"refresh"`

	// PollInterval is how often each device's presence is re-read.
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`

	// Listen is the HTTP listen address. Empty disables the API.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`
	SNS  SNSConfig  `yaml:"sns" json:"sns"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Events:       []string{},
		Refresh:      scheduler.DefaultSpec,
		PollInterval: defaultPollInterval,
		Listen:       defaultListen,
		LogLevel:     defaultLogLevel,
		LogFormat:    defaultLogFormat,
		MQTT:         MQTTConfig{TopicPrefix: defaultTopicPrefix},
	}
}

// Normalize fills in missing values and drops blank device names.
// Listen is left alone: an explicit empty value disables the API.
func (c *Config) Normalize() {
	c.CalURL = strings.TrimSpace(c.CalURL)

	events := make([]string, 0, len(c.Events))
	for _, e := range c.Events {
		if e = strings.TrimSpace(e); e != "" {
			events = append(events, e)
		}
	}
	c.Events = events

	if c.Refresh == "" {
		c.Refresh = scheduler.DefaultSpec
	}
	if d, err := time.ParseDuration(c.PollInterval); err != nil || d <= 0 {
		c.PollInterval = defaultPollInterval
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		c.LogFormat = defaultLogFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Poll returns PollInterval as a duration.
func (c *Config) Poll() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultPollInterval)
	}
	return d
}

// Location resolves Timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// envOverrides is read from the process environment after the file.
// Only non-empty values replace file values.
type envOverrides struct {
	CalURL          string   `env:"CALPRESENCE_CALURL"`
	Events          []string `env:"CALPRESENCE_EVENTS" envSeparator:","`
	Timezone        string   `env:"CALPRESENCE_TIMEZONE"`
	Refresh         string   `env:"CALPRESENCE_REFRESH"`
	PollInterval    string   `env:"CALPRESENCE_POLL_INTERVAL"`
	Listen          string   `env:"CALPRESENCE_LISTEN"`
	LogLevel        string   `env:"CALPRESENCE_LOG_LEVEL"`
	LogFormat       string   `env:"CALPRESENCE_LOG_FORMAT"`
	BasicAuthUser   string   `env:"CALPRESENCE_BASIC_AUTH_USERNAME"`
	BasicAuthPass   string   `env:"CALPRESENCE_BASIC_AUTH_PASSWORD"`
	MQTTBroker      string   `env:"CALPRESENCE_MQTT_BROKER"`
	MQTTClientID    string   `env:"CALPRESENCE_MQTT_CLIENT_ID"`
	MQTTTopicPrefix string   `env:"CALPRESENCE_MQTT_TOPIC_PREFIX"`
	SNSTopicARN     string   `env:"CALPRESENCE_SNS_TOPIC_ARN"`
}

// ApplyEnv overlays CALPRESENCE_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("error parsing environment variables: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.CalURL, o.CalURL)
	set(&c.Timezone, o.Timezone)
	set(&c.Refresh, o.Refresh)
	set(&c.PollInterval, o.PollInterval)
	set(&c.Listen, o.Listen)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)
	set(&c.MQTT.Broker, o.MQTTBroker)
	set(&c.MQTT.ClientID, o.MQTTClientID)
	set(&c.MQTT.TopicPrefix, o.MQTTTopicPrefix)
	set(&c.SNS.TopicARN, o.SNSTopicARN)
	if len(o.Events) > 0 {
		c.Events = o.Events
	}
	if o.BasicAuthUser != "" || o.BasicAuthPass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: o.BasicAuthUser, Password: o.BasicAuthPass}
	}

	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path and applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Normalize()
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calpresence-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
