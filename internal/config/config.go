// Package config loads ELSPETH's runtime configuration from environment
// variables. It does not load the pipeline settings document (that
// lives in internal/graph) — only the engine's own operational knobs:
// database, queue, retry defaults, rate limiting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Retry     RetryConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds run-level settings.
type ServiceConfig struct {
	Name      string
	Port      int
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds the Landscape store's Postgres connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// QueueConfig holds the orchestrator's work-queue settings.
type QueueConfig struct {
	Backend       string // "memory" or "redis"
	RedisAddr     string
	Workers       int
	HighWaterMark int // backpressure threshold on queue depth
	DrainDeadline time.Duration
}

// RetryConfig holds default retry budget/backoff, overridable per node.
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	BackoffMultiple float64
	MaxBackoff      time.Duration
}

// TelemetryConfig holds the optional telemetry export settings.
type TelemetryConfig struct {
	Enabled     bool
	QueueMode   string // "block" or "drop"
	QueueDepth  int
	EnablePprof bool
	PprofPort   int
}

// RateLimitConfig holds the per-external-service token-bucket defaults.
type RateLimitConfig struct {
	RedisAddr      string
	DefaultRPS     float64
	DefaultBurst   int
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:      serviceName,
			Port:      getEnvInt("PORT", 8080),
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "elspeth"),
			User:        getEnv("POSTGRES_USER", "elspeth"),
			Password:    getEnv("POSTGRES_PASSWORD", "elspeth"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Queue: QueueConfig{
			Backend:       getEnv("QUEUE_BACKEND", "memory"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Workers:       getEnvInt("WORKER_POOL_SIZE", 8),
			HighWaterMark: getEnvInt("QUEUE_HIGH_WATER_MARK", 1000),
			DrainDeadline: getEnvDuration("DRAIN_DEADLINE", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff:  getEnvDuration("RETRY_INITIAL_BACKOFF", 200*time.Millisecond),
			BackoffMultiple: getEnvFloat("RETRY_BACKOFF_MULTIPLE", 2.0),
			MaxBackoff:      getEnvDuration("RETRY_MAX_BACKOFF", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvBool("TELEMETRY_ENABLED", false),
			QueueMode:   getEnv("TELEMETRY_QUEUE_MODE", "drop"),
			QueueDepth:  getEnvInt("TELEMETRY_QUEUE_DEPTH", 256),
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
			DefaultRPS:   getEnvFloat("RATE_LIMIT_DEFAULT_RPS", 10.0),
			DefaultBurst: getEnvInt("RATE_LIMIT_DEFAULT_BURST", 20),
		},
	}

	return cfg, cfg.Validate()
}

// Validate enforces basic sanity on loaded configuration.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max_conns must be >= min_conns")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("worker pool size must be >= 1")
	}
	if c.Queue.HighWaterMark < c.Queue.Workers {
		return fmt.Errorf("queue high water mark must be >= worker pool size")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1")
	}
	return nil
}

// DatabaseURL renders the Postgres connection string for pgxpool.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
