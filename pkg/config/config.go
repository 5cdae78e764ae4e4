package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fedgate/fedgate/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds redis settings for the request-state cache.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthConfig holds token issuance settings.
type AuthConfig struct {
	TokenSigningKey string
	TokenIssuer     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// CertificateDir is where per-organization SAML certificates are
	// stored.
	CertificateDir string
}

// AuditConfig holds audit sink settings.
type AuditConfig struct {
	Enabled  bool
	FilePath string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("FEDGATE_HOST", "0.0.0.0"),
			Port:            getEnv("FEDGATE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("FEDGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("FEDGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("FEDGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("FEDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("FEDGATE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("FEDGATE_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("FEDGATE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("FEDGATE_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("FEDGATE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:        getEnv("FEDGATE_REDIS_URL", "redis://localhost:6379/0"),
			Password:   getEnv("FEDGATE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("FEDGATE_REDIS_DB", 0),
			MaxRetries: getEnvInt("FEDGATE_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("FEDGATE_REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			TokenSigningKey: getEnv("FEDGATE_TOKEN_SIGNING_KEY", ""),
			TokenIssuer:     getEnv("FEDGATE_TOKEN_ISSUER", "fedgate"),
			AccessTokenTTL:  getEnvDuration("FEDGATE_ACCESS_TOKEN_TTL", time.Hour),
			RefreshTokenTTL: getEnvDuration("FEDGATE_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			CertificateDir:  getEnv("FEDGATE_CERT_DIR", "/var/lib/fedgate/certs"),
		},
		Audit: AuditConfig{
			Enabled:  getEnvBool("FEDGATE_AUDIT_ENABLED", true),
			FilePath: getEnv("FEDGATE_AUDIT_FILE", "/var/log/fedgate/audit.log"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(strings.ToLower(getEnv("FEDGATE_LOG_LEVEL", "info"))),
			MetricsEnabled: getEnvBool("FEDGATE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for missing or conflicting values.
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
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Auth.TokenSigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	if len(c.Auth.TokenSigningKey) < 32 {
		return fmt.Errorf("token signing key must be at least 32 bytes")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
