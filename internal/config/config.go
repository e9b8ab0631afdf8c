// Package config provides configuration management for the CRM gateway
// service. It loads configuration from environment variables with sensible
// defaults and validates the result so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// CRM Configuration:
//   - CRM_HOSTNAME: AlfaCRM hostname, without scheme (required)
//   - CRM_EMAIL: AlfaCRM account email (required)
//   - CRM_API_KEY: AlfaCRM API key (required)
//   - CRM_TOKEN_TTL: cached token lifetime (default: 3300s)
//   - CRM_REQUEST_LIMIT: max concurrent outbound CRM requests (default: 2)
//   - CRM_MAX_RETRIES: attempts per dispatched request (default: 5)
//   - CRM_RETRY_DELAY: initial 429 backoff delay (default: 2s)
//   - CRM_REQUEST_TIMEOUT: per-request socket timeout (default: 10s)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./crm_gateway.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL settings
//
// Telegram:
//   - TELEGRAM_BOT_TOKEN: bot token for outbound notifications (optional;
//     notifications are disabled when unset)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the CRM gateway service.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// CRM account and client behavior
	CRMHostname       string        // AlfaCRM hostname (host only, https assumed)
	CRMEmail          string        // AlfaCRM account email
	CRMAPIKey         string        // AlfaCRM API key
	CRMTokenTTL       time.Duration // Cached bearer token lifetime
	CRMRequestLimit   int           // Concurrent outbound request ceiling
	CRMMaxRetries     int           // Attempts per dispatched request
	CRMRetryDelay     time.Duration // Initial backoff delay for HTTP 429
	CRMRequestTimeout time.Duration // Per-request timeout

	// Redis configuration for the shared token cache
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       int    // Redis database number (0-15)
	RedisPoolSize int    // Redis connection pool size

	// Database configuration for the users store
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode

	// Telegram notifications
	TelegramBotToken string // Bot token; empty disables notifications
}

// Load creates a new Config instance with values loaded from environment
// variables. Call Validate() on the result before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CRMHostname:       getEnv("CRM_HOSTNAME", ""),
		CRMEmail:          getEnv("CRM_EMAIL", ""),
		CRMAPIKey:         getEnv("CRM_API_KEY", ""),
		CRMTokenTTL:       getDurationEnv("CRM_TOKEN_TTL", 3300*time.Second),
		CRMRequestLimit:   getIntEnv("CRM_REQUEST_LIMIT", 2),
		CRMMaxRetries:     getIntEnv("CRM_MAX_RETRIES", 5),
		CRMRetryDelay:     getDurationEnv("CRM_RETRY_DELAY", 2*time.Second),
		CRMRequestTimeout: getDurationEnv("CRM_REQUEST_TIMEOUT", 10*time.Second),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./crm_gateway.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "crm_gateway"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.CRMHostname == "" {
		return fmt.Errorf("CRM_HOSTNAME is required")
	}
	if c.CRMEmail == "" {
		return fmt.Errorf("CRM_EMAIL is required")
	}
	if c.CRMAPIKey == "" {
		return fmt.Errorf("CRM_API_KEY is required")
	}
	if c.CRMRequestLimit < 1 {
		return fmt.Errorf("CRM_REQUEST_LIMIT must be at least 1, got %d", c.CRMRequestLimit)
	}
	if c.CRMMaxRetries < 1 {
		return fmt.Errorf("CRM_MAX_RETRIES must be at least 1, got %d", c.CRMMaxRetries)
	}
	if c.CRMTokenTTL <= 0 {
		return fmt.Errorf("CRM_TOKEN_TTL must be positive, got %s", c.CRMTokenTTL)
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.RedisDB)
	}
	switch c.DatabaseType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE: %s", c.DatabaseType)
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %s", c.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
