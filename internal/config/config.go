package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds process-level configuration for a router worker.
type Config struct {
	// Worker identity
	WorkerID string `env:"WORKER_ID" envDefault:"worker-1"`

	// Default routing prefix, e.g. "/us/cluster1/". Parsed into
	// (region, cluster) and used whenever a request carries no explicit
	// routing prefix of its own.
	DefaultRoute string `env:"DEFAULT_ROUTE" envDefault:"/us/cluster1/"`

	// Admission / rate limiting. 0 disables the limit entirely.
	ProxyMaxInflightRequests int `env:"PROXY_MAX_INFLIGHT_REQUESTS" envDefault:"0"`

	// Request queue sizing (MPSC channel capacity between transport
	// goroutines and the worker's event loop).
	RequestQueueSize int `env:"REQUEST_QUEUE_SIZE" envDefault:"4096"`

	// BackendClientTable housekeeping.
	ResetInactiveConnectionInterval time.Duration `env:"RESET_INACTIVE_CONNECTION_INTERVAL" envDefault:"1m"`
	BackendSweepInterval            time.Duration `env:"BACKEND_SWEEP_INTERVAL" envDefault:"30s"`

	// RTT gauge flush cadence.
	RTTFlushInterval time.Duration `env:"RTT_FLUSH_INTERVAL" envDefault:"10s"`

	// Redis is the transport for the runtime-vars pub/sub store and the
	// control-plane config-reload subscription.
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASS" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RuntimeVarsChannel string `env:"RUNTIME_VARS_CHANNEL" envDefault:"mcrouter.runtime_vars"`
	ConfigChannel      string `env:"CONFIG_CHANNEL" envDefault:"mcrouter.config"`
	ConfigFilePath     string `env:"CONFIG_FILE_PATH" envDefault:""`

	// Health check configuration
	HealthPort int `env:"HEALTH_PORT" envDefault:"8082"`

	// Logging configuration
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.WorkerID == "" {
		return fmt.Errorf("WORKER_ID is required")
	}

	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}

	if c.RuntimeVarsChannel == "" {
		return fmt.Errorf("RUNTIME_VARS_CHANNEL is required")
	}

	if c.ConfigChannel == "" {
		return fmt.Errorf("CONFIG_CHANNEL is required")
	}

	if c.ProxyMaxInflightRequests < 0 {
		return fmt.Errorf("PROXY_MAX_INFLIGHT_REQUESTS must be non-negative")
	}

	if c.RequestQueueSize <= 0 {
		return fmt.Errorf("REQUEST_QUEUE_SIZE must be positive")
	}

	if c.ResetInactiveConnectionInterval < 0 {
		return fmt.Errorf("RESET_INACTIVE_CONNECTION_INTERVAL must be non-negative")
	}

	if c.BackendSweepInterval <= 0 {
		return fmt.Errorf("BACKEND_SWEEP_INTERVAL must be positive")
	}

	if c.RTTFlushInterval <= 0 {
		return fmt.Errorf("RTT_FLUSH_INTERVAL must be positive")
	}

	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 1 and 65535")
	}

	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	return nil
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	return validLevels[level]
}

// RedisOptions returns Redis client options.
func (c *Config) RedisOptions() map[string]interface{} {
	return map[string]interface{}{
		"addr":     c.RedisAddr,
		"password": c.RedisPassword,
		"db":       c.RedisDB,
	}
}

// String returns a string representation of the config (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{WorkerID=%s, DefaultRoute=%s, ProxyMaxInflightRequests=%d, RedisAddr=%s, "+
			"RedisDB=%d, RuntimeVarsChannel=%s, ConfigChannel=%s, HealthPort=%d, LogLevel=%s}",
		c.WorkerID,
		c.DefaultRoute,
		c.ProxyMaxInflightRequests,
		c.RedisAddr,
		c.RedisDB,
		c.RuntimeVarsChannel,
		c.ConfigChannel,
		c.HealthPort,
		c.LogLevel,
	)
}
