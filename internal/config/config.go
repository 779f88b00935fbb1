// Package config loads DiPeO's runtime configuration from environment
// variables, following the teacher's env-var-Config-tree convention
// rather than a config-file library (none appears anywhere in the
// retrieval pack).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Execution ExecutionConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds process-identity and logging settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds the Postgres durable-repository connection settings.
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

// CacheConfig selects and sizes the live-execution cache backend.
type CacheConfig struct {
	Backend    string // "memory" or "redis"
	RedisAddr  string
	MaxEntries int
	DefaultTTL time.Duration
}

// ExecutionConfig holds engine-wide execution defaults (spec §4.8, §5).
type ExecutionConfig struct {
	MaxConcurrent        int
	MaxIterations        int
	SubscriberQueueDepth int
	EventStoreDepth      int
	DefaultNodeTimeout   time.Duration
	DefaultExecTimeout   time.Duration
}

// TelemetryConfig holds observability toggles.
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load reads configuration from the environment, applying the same
// defaults-then-validate shape as the teacher's config.Load.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "dipeo"),
			User:        getEnv("POSTGRES_USER", "dipeo"),
			Password:    getEnv("POSTGRES_PASSWORD", "dipeo"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Cache: CacheConfig{
			Backend:    getEnv("CACHE_BACKEND", "memory"),
			RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
			MaxEntries: getEnvInt("CACHE_MAX_EXECUTIONS", 256),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),
		},
		Execution: ExecutionConfig{
			MaxConcurrent:        getEnvInt("EXECUTION_MAX_CONCURRENT", 8),
			MaxIterations:        getEnvInt("EXECUTION_MAX_ITERATIONS", 10000),
			SubscriberQueueDepth: getEnvInt("SUBSCRIBER_QUEUE_DEPTH", 1000),
			EventStoreDepth:      getEnvInt("EVENT_STORE_DEPTH", 1000),
			DefaultNodeTimeout:   getEnvDuration("DEFAULT_NODE_TIMEOUT", 5*time.Minute),
			DefaultExecTimeout:   getEnvDuration("DEFAULT_EXEC_TIMEOUT", 30*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants the rest of the process assumes hold.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max_conns must be >= min_conns")
	}
	if c.Execution.MaxConcurrent < 1 {
		return fmt.Errorf("execution max_concurrent must be >= 1")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// DatabaseURL returns the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return defaultValue
}
