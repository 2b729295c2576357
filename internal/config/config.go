package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/directory"
)

// Default values applied when a field is left empty
const (
	DefaultConfigPath  = "/etc/stt/whisper_servers.yaml"
	DefaultFFmpegPath  = "ffmpeg"
	DefaultLogLevel    = "warn"
	DefaultLogFormat   = "text"
	DefaultLogOutput   = "stderr"
	DefaultMetricsName = "stt"
)

// Config represents the complete bridge configuration.
// The servers section is the whisper_servers.yaml layout: servers: {lang: {host, port}}.
type Config struct {
	Servers    map[string]directory.Endpoint `yaml:"servers"`
	Transcoder TranscoderConfig              `yaml:"transcoder"`
	Session    SessionConfig                 `yaml:"session"`
	Logging    LoggingConfig                 `yaml:"logging"`
	Metrics    MetricsConfig                 `yaml:"metrics"`
}

// TranscoderConfig contains the external audio converter settings
type TranscoderConfig struct {
	Path      string   `yaml:"path"`
	ExtraArgs []string `yaml:"extra_args"`
}

// SessionConfig contains transcription session limits.
// Zero disables a timeout, which is the default.
type SessionConfig struct {
	ConnectTimeout float64 `yaml:"connect_timeout"` // seconds
	IOTimeout      float64 `yaml:"io_timeout"`      // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains metrics export configuration
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`  // node-exporter textfile path, empty disables
	Namespace string `yaml:"namespace"` // metric name prefix
}

// Load reads and parses the configuration file, applies environment overrides
// (env may be nil) and validates the result.
func Load(path string, env *Env) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	env.Apply(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Parse decodes YAML configuration and fills in defaults without validating
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Transcoder.Path == "" {
		c.Transcoder.Path = DefaultFFmpegPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsName
	}
}

// Validate performs validation of every configuration section.
// Server entries are checked on lookup, so a broken entry only fails its own language.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("servers: at least one language must be configured")
	}

	if err := c.Transcoder.Validate(); err != nil {
		return fmt.Errorf("transcoder config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Directory returns the server directory described by the servers section
func (c *Config) Directory() *directory.Directory {
	return directory.New(c.Servers)
}

// Validate validates transcoder configuration
func (t *TranscoderConfig) Validate() error {
	if t.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout cannot be negative, got %f", s.ConnectTimeout)
	}

	if s.IOTimeout < 0 {
		return fmt.Errorf("io_timeout cannot be negative, got %f", s.IOTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetConnectTimeoutDuration returns the connect timeout as a time.Duration
func (s *SessionConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectTimeout * float64(time.Second))
}

// GetIOTimeoutDuration returns the per-operation I/O timeout as a time.Duration
func (s *SessionConfig) GetIOTimeoutDuration() time.Duration {
	return time.Duration(s.IOTimeout * float64(time.Second))
}
