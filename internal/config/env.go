package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env holds overrides taken from the process environment.
// Empty or zero values leave the file configuration untouched.
type Env struct {
	ConfigPath     string        `env:"STT_CONFIG" envDefault:"/etc/stt/whisper_servers.yaml"`
	LogLevel       string        `env:"STT_LOG_LEVEL"`
	LogFormat      string        `env:"STT_LOG_FORMAT"`
	LogOutput      string        `env:"STT_LOG_OUTPUT"`
	FFmpegPath     string        `env:"STT_FFMPEG_PATH"`
	ConnectTimeout time.Duration `env:"STT_CONNECT_TIMEOUT"`
	IOTimeout      time.Duration `env:"STT_IO_TIMEOUT"`
	MetricsFile    string        `env:"STT_METRICS_FILE"`
}

// LoadEnv parses overrides from the process environment
func LoadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	return &e, nil
}

// LoadEnvFrom parses overrides from an explicit variable set instead of the process environment
func LoadEnvFrom(vars map[string]string) (*Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	return &e, nil
}

// Apply copies every set override into c. A nil receiver is a no-op.
func (e *Env) Apply(c *Config) {
	if e == nil {
		return
	}

	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Logging.Format = e.LogFormat
	}
	if e.LogOutput != "" {
		c.Logging.Output = e.LogOutput
	}
	if e.FFmpegPath != "" {
		c.Transcoder.Path = e.FFmpegPath
	}
	if e.ConnectTimeout > 0 {
		c.Session.ConnectTimeout = e.ConnectTimeout.Seconds()
	}
	if e.IOTimeout > 0 {
		c.Session.IOTimeout = e.IOTimeout.Seconds()
	}
	if e.MetricsFile != "" {
		c.Metrics.Textfile = e.MetricsFile
	}
}
