// Package config loads Pulse's configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr string `env:"PULSE_ADDR" envDefault:":8080"`

	// State store (spec §4.1, §6 "Store key layout")
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Cross-node fan-out transport (spec §4.4, §9)
	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Capacity / admission (spec §4.2, §6)
	ConnectionsPerIPPerMinute int `env:"CONNECTIONS_PER_IP_PER_MINUTE" envDefault:"60"`
	GlobalConnectionsPerSec   int `env:"GLOBAL_CONNECTIONS_PER_SECOND" envDefault:"1000"`
	MaxGlobalConnections      int `env:"MAX_GLOBAL_CONNECTIONS" envDefault:"10000000"`

	// Drain (spec §4.3, §5)
	ForceCompleteTimeout time.Duration `env:"DRAIN_FORCE_COMPLETE_TIMEOUT" envDefault:"15s"`
	HardShutdownTimeout  time.Duration `env:"DRAIN_HARD_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Tick (spec §4.5)
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"5s"`

	// Leader election (SPEC_FULL §4)
	LeaderLeaseTTL      time.Duration `env:"LEADER_LEASE_TTL" envDefault:"10s"`
	LeaderRenewInterval time.Duration `env:"LEADER_RENEW_INTERVAL" envDefault:"3s"`
	NodeID              string        `env:"NODE_ID" envDefault:""`

	// Crash reconciliation (SPEC_FULL §5), disabled by default
	ReconcileEnabled  bool          `env:"RECONCILE_ENABLED" envDefault:"false"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"60s"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (optional) and the
// environment. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		} else {
			fmt.Println("info: no .env file found (using environment variables only)")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PULSE_ADDR is required")
	}
	if c.MaxGlobalConnections < 1 {
		return fmt.Errorf("MAX_GLOBAL_CONNECTIONS must be > 0, got %d", c.MaxGlobalConnections)
	}
	if c.ConnectionsPerIPPerMinute < 1 {
		return fmt.Errorf("CONNECTIONS_PER_IP_PER_MINUTE must be > 0, got %d", c.ConnectionsPerIPPerMinute)
	}
	if c.GlobalConnectionsPerSec < 1 {
		return fmt.Errorf("GLOBAL_CONNECTIONS_PER_SECOND must be > 0, got %d", c.GlobalConnectionsPerSec)
	}
	if c.ForceCompleteTimeout <= 0 {
		return fmt.Errorf("DRAIN_FORCE_COMPLETE_TIMEOUT must be > 0")
	}
	if c.HardShutdownTimeout < c.ForceCompleteTimeout {
		return fmt.Errorf("DRAIN_HARD_SHUTDOWN_TIMEOUT (%s) must be >= DRAIN_FORCE_COMPLETE_TIMEOUT (%s)",
			c.HardShutdownTimeout, c.ForceCompleteTimeout)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be > 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Print logs configuration in a human-readable format for startup logs.
func (c *Config) Print() {
	fmt.Println("=== Pulse Configuration ===")
	fmt.Printf("Environment:      %s\n", c.Environment)
	fmt.Printf("Address:          %s\n", c.Addr)
	fmt.Printf("Redis URL:        %s\n", c.RedisURL)
	fmt.Printf("NATS URL:         %s\n", c.NATSURL)
	fmt.Println("\n=== Admission ===")
	fmt.Printf("Per-IP/min:       %d\n", c.ConnectionsPerIPPerMinute)
	fmt.Printf("Global/sec:       %d\n", c.GlobalConnectionsPerSec)
	fmt.Printf("Max connections:  %d\n", c.MaxGlobalConnections)
	fmt.Println("\n=== Drain ===")
	fmt.Printf("Force complete:   %s\n", c.ForceCompleteTimeout)
	fmt.Printf("Hard shutdown:    %s\n", c.HardShutdownTimeout)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:            %s\n", c.LogLevel)
	fmt.Printf("Format:           %s\n", c.LogFormat)
	fmt.Println("===========================")
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NATSURL).
		Int("per_ip_per_minute", c.ConnectionsPerIPPerMinute).
		Int("global_per_second", c.GlobalConnectionsPerSec).
		Int("max_connections", c.MaxGlobalConnections).
		Dur("force_complete_timeout", c.ForceCompleteTimeout).
		Dur("hard_shutdown_timeout", c.HardShutdownTimeout).
		Dur("tick_interval", c.TickInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
