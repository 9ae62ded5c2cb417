package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alignex/entitlements/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Jobs          JobsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CTA target rendered by module gates when a module is not licensed
	UpgradeURL string
}

// DatabaseConfig holds the licensing store configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3" (local mode)
	Driver   string
	URL      string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds resolver cache settings
type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend string
	TTL     time.Duration
}

// AuthConfig holds identity resolution settings
type AuthConfig struct {
	// Mode is "header" (trusted identity header) or "oidc"
	Mode           string
	IdentityHeader string
	OIDCIssuer     string
	OIDCClientID   string

	// Placeholder identities used when no authenticated identity is present
	DefaultUser string
	DefaultOrg  string
}

// RateLimitConfig holds request rate limiting settings
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// JobsConfig holds maintenance job schedules
type JobsConfig struct {
	Enabled        bool
	CacheSweep     string
	ExpiryReport   string
	MetricsRefresh string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("ALIGNEX_HOST", "0.0.0.0"),
			Port:            getEnv("ALIGNEX_PORT", "8080"),
			ReadTimeout:     getEnvDuration("ALIGNEX_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("ALIGNEX_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("ALIGNEX_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("ALIGNEX_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("ALIGNEX_HEALTH_PORT", "9090"),
			UpgradeURL:      getEnv("ALIGNEX_UPGRADE_URL", "https://alignex.example.com/upgrade"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("ALIGNEX_DB_DRIVER", "postgres"),
			URL:      getEnv("ALIGNEX_DB_URL", "postgres://localhost/alignex?sslmode=disable"),
			MaxConns: getEnvInt("ALIGNEX_DB_MAX_CONNS", 20),
			MinConns: getEnvInt("ALIGNEX_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("ALIGNEX_REDIS_ADDR", ""),
			Password: getEnv("ALIGNEX_REDIS_PASSWORD", ""),
			DB:       getEnvInt("ALIGNEX_REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Backend: getEnv("ALIGNEX_CACHE_BACKEND", "memory"),
			TTL:     getEnvDuration("ALIGNEX_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			Mode:           getEnv("ALIGNEX_AUTH_MODE", "header"),
			IdentityHeader: getEnv("ALIGNEX_IDENTITY_HEADER", "X-Alignex-User"),
			OIDCIssuer:     getEnv("ALIGNEX_OIDC_ISSUER", ""),
			OIDCClientID:   getEnv("ALIGNEX_OIDC_CLIENT_ID", ""),
			DefaultUser:    getEnv("ALIGNEX_DEFAULT_USER", "current.user@company.com"),
			DefaultOrg:     getEnv("ALIGNEX_DEFAULT_ORG", "epma-default"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("ALIGNEX_RATE_LIMIT_ENABLED", true),
			Requests: getEnvInt("ALIGNEX_RATE_LIMIT_REQUESTS", 600),
			Window:   getEnvDuration("ALIGNEX_RATE_LIMIT_WINDOW", time.Minute),
		},
		Jobs: JobsConfig{
			Enabled:        getEnvBool("ALIGNEX_JOBS_ENABLED", true),
			CacheSweep:     getEnv("ALIGNEX_CACHE_SWEEP_SCHEDULE", "*/5 * * * *"),
			ExpiryReport:   getEnv("ALIGNEX_EXPIRY_REPORT_SCHEDULE", "0 6 * * *"),
			MetricsRefresh: getEnv("ALIGNEX_METRICS_REFRESH_SCHEDULE", "*/10 * * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("ALIGNEX_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("ALIGNEX_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("ALIGNEX_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("ALIGNEX_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("ALIGNEX_OTEL_SERVICE_NAME", "alignex-entitlements"),
			OTelServiceVersion: getEnv("ALIGNEX_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("ALIGNEX_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	switch c.Auth.Mode {
	case "header":
		if c.Auth.IdentityHeader == "" {
			return fmt.Errorf("identity header is required for header auth mode")
		}
	case "oidc":
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client ID are required for oidc auth mode")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be header or oidc)", c.Auth.Mode)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate limit requests must be positive")
		}
		if c.RateLimit.Window < time.Second {
			return fmt.Errorf("rate limit window must be at least one second")
		}
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
