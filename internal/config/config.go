// Package config loads lock-service configuration the way the teacher's
// ws/config.go does: struct tags read by caarlos0/env, an optional .env
// file loaded first via joho/godotenv, and explicit Validate/LogConfig
// helpers rather than ad hoc validation scattered at call sites.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ServerConfig holds the coordinator's configuration.
type ServerConfig struct {
	Addr         string `env:"LOCKD_ADDR" envDefault:":4202"`
	NATSURL      string `env:"LOCKD_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	MetricsAddr  string `env:"LOCKD_METRICS_ADDR" envDefault:":9402"`
	ObserveAddr  string `env:"LOCKD_OBSERVE_ADDR" envDefault:":9403"`
	AuditTopic   string `env:"LOCKD_AUDIT_TOPIC" envDefault:""`
	AuditBrokers string `env:"LOCKD_AUDIT_BROKERS" envDefault:""`

	SenderRatePerSec  float64 `env:"LOCKD_SENDER_RATE" envDefault:"500"`
	SenderBurst       int     `env:"LOCKD_SENDER_BURST" envDefault:"100"`
	CPUPauseThreshold float64 `env:"LOCKD_CPU_PAUSE_THRESHOLD" envDefault:"85.0"`

	MetricsInterval time.Duration `env:"LOCKD_METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// ClientConfig holds a demo client cache process's configuration.
type ClientConfig struct {
	ClientID string `env:"LOCKD_CLIENT_ID,required"`
	NATSURL  string `env:"LOCKD_NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadServerConfig reads ServerConfig from an optional .env file and the
// environment. Priority: env vars > .env file > defaults.
func LoadServerConfig(logger *zerolog.Logger) (*ServerConfig, error) {
	loadDotenv(logger)

	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadClientConfig reads ClientConfig from an optional .env file and the
// environment.
func LoadClientConfig(logger *zerolog.Logger) (*ClientConfig, error) {
	loadDotenv(logger)

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("LOCKD_CLIENT_ID is required")
	}
	return cfg, nil
}

func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
		return
	}
	if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}
}

// Validate range-checks ServerConfig the way the teacher's Config.Validate
// checks CPU thresholds and log enums.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("LOCKD_ADDR is required")
	}
	if c.SenderRatePerSec <= 0 {
		return fmt.Errorf("LOCKD_SENDER_RATE must be > 0, got %.1f", c.SenderRatePerSec)
	}
	if c.SenderBurst < 1 {
		return fmt.Errorf("LOCKD_SENDER_BURST must be > 0, got %d", c.SenderBurst)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("LOCKD_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	if (c.AuditTopic == "") != (c.AuditBrokers == "") {
		return fmt.Errorf("LOCKD_AUDIT_TOPIC and LOCKD_AUDIT_BROKERS must be set together")
	}

	return nil
}

// LogConfig logs the configuration with structured fields.
func (c *ServerConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NATSURL).
		Str("metrics_addr", c.MetricsAddr).
		Str("observe_addr", c.ObserveAddr).
		Float64("sender_rate_per_sec", c.SenderRatePerSec).
		Int("sender_burst", c.SenderBurst).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Bool("audit_enabled", c.AuditTopic != "").
		Msg("server configuration loaded")
}
