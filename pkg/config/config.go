// Package config loads service configuration from the environment, with
// an optional YAML file applied underneath environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vortexhq/vortex/pkg/cache"
	"github.com/vortexhq/vortex/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig
	Redis  cache.ClientConfig
	Roles  RolesConfig

	// PostgresURL is the connection string for the moderation database.
	PostgresURL string

	Observability ObservabilityConfig
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
}

// RolesConfig holds role registry settings
type RolesConfig struct {
	// CacheTTL bounds how long cached role entries live.
	CacheTTL time.Duration

	// RefreshSchedule is a cron expression for periodic role refresh.
	// Empty disables the schedule.
	RefreshSchedule string

	// SessionCacheSize and SessionCacheTTL size the in-process session
	// LRU.
	SessionCacheSize int
	SessionCacheTTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// fileConfig is the YAML shape of the optional config file. Every field
// maps onto an environment variable; env always wins.
type fileConfig struct {
	Server struct {
		Host       string `yaml:"host"`
		Port       string `yaml:"port"`
		HealthPort string `yaml:"healthPort"`
	} `yaml:"server"`
	PostgresURL string `yaml:"postgresUrl"`
	Redis       struct {
		URL      string `yaml:"url"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Roles struct {
		RefreshSchedule string `yaml:"refreshSchedule"`
	} `yaml:"roles"`
	LogLevel string `yaml:"logLevel"`
}

// LoadConfig loads configuration from the optional YAML file named by
// VORTEX_CONFIG_FILE, then from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("VORTEX_HOST", "0.0.0.0"),
			Port:            getEnv("VORTEX_PORT", "8080"),
			ReadTimeout:     getEnvDuration("VORTEX_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("VORTEX_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("VORTEX_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("VORTEX_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("VORTEX_HEALTH_PORT", "9090"),
		},
		PostgresURL: getEnv("VORTEX_POSTGRES_URL", ""),
		Redis: cache.ClientConfig{
			URL:        getEnv("VORTEX_REDIS_URL", "redis://localhost:6379"),
			Password:   getEnv("VORTEX_REDIS_PASSWORD", ""),
			DB:         getEnvInt("VORTEX_REDIS_DB", 0),
			MaxRetries: getEnvInt("VORTEX_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("VORTEX_REDIS_POOL_SIZE", 10),
		},
		Roles: RolesConfig{
			CacheTTL:         getEnvDuration("VORTEX_ROLE_CACHE_TTL", 24*time.Hour),
			RefreshSchedule:  getEnv("VORTEX_ROLE_REFRESH_SCHEDULE", ""),
			SessionCacheSize: getEnvInt("VORTEX_SESSION_CACHE_SIZE", 1024),
			SessionCacheTTL:  getEnvDuration("VORTEX_SESSION_CACHE_TTL", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("VORTEX_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("VORTEX_METRICS_ENABLED", true),
		},
	}

	if path := getEnv("VORTEX_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyFile fills in values the environment left unset. A set environment
// variable always beats the file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setUnlessEnv := func(envKey string, dst *string, val string) {
		if val != "" && os.Getenv(envKey) == "" {
			*dst = val
		}
	}
	setUnlessEnv("VORTEX_HOST", &c.Server.Host, fc.Server.Host)
	setUnlessEnv("VORTEX_PORT", &c.Server.Port, fc.Server.Port)
	setUnlessEnv("VORTEX_HEALTH_PORT", &c.Server.HealthPort, fc.Server.HealthPort)
	setUnlessEnv("VORTEX_POSTGRES_URL", &c.PostgresURL, fc.PostgresURL)
	setUnlessEnv("VORTEX_REDIS_URL", &c.Redis.URL, fc.Redis.URL)
	setUnlessEnv("VORTEX_REDIS_PASSWORD", &c.Redis.Password, fc.Redis.Password)
	setUnlessEnv("VORTEX_ROLE_REFRESH_SCHEDULE", &c.Roles.RefreshSchedule, fc.Roles.RefreshSchedule)
	if fc.Redis.DB != 0 && os.Getenv("VORTEX_REDIS_DB") == "" {
		c.Redis.DB = fc.Redis.DB
	}
	if fc.LogLevel != "" && os.Getenv("VORTEX_LOG_LEVEL") == "" {
		c.Observability.LogLevel = observability.ParseLogLevel(fc.LogLevel)
	}
	return nil
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
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Roles.SessionCacheSize <= 0 {
		return fmt.Errorf("session cache size must be positive")
	}
	return nil
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
