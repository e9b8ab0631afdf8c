package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Load()
	cfg.CRMHostname = "example.s20.online"
	cfg.CRMEmail = "bot@example.com"
	cfg.CRMAPIKey = "key"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3300*time.Second, cfg.CRMTokenTTL)
	assert.Equal(t, 2, cfg.CRMRequestLimit)
	assert.Equal(t, 5, cfg.CRMMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.CRMRetryDelay)
	assert.Equal(t, 10*time.Second, cfg.CRMRequestTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddress)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CRM_HOSTNAME", "club.s20.online")
	t.Setenv("CRM_TOKEN_TTL", "30m")
	t.Setenv("CRM_REQUEST_LIMIT", "4")
	t.Setenv("DATABASE_TYPE", "postgres")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "club.s20.online", cfg.CRMHostname)
	assert.Equal(t, 30*time.Minute, cfg.CRMTokenTTL)
	assert.Equal(t, 4, cfg.CRMRequestLimit)
	assert.Equal(t, "postgres", cfg.DatabaseType)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("CRM_REQUEST_LIMIT", "not-a-number")
	t.Setenv("CRM_TOKEN_TTL", "not-a-duration")

	cfg := Load()
	assert.Equal(t, 2, cfg.CRMRequestLimit)
	assert.Equal(t, 3300*time.Second, cfg.CRMTokenTTL)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing hostname", func(c *Config) { c.CRMHostname = "" }},
		{"missing email", func(c *Config) { c.CRMEmail = "" }},
		{"missing api key", func(c *Config) { c.CRMAPIKey = "" }},
		{"zero request limit", func(c *Config) { c.CRMRequestLimit = 0 }},
		{"zero retries", func(c *Config) { c.CRMMaxRetries = 0 }},
		{"zero token ttl", func(c *Config) { c.CRMTokenTTL = 0 }},
		{"redis db out of range", func(c *Config) { c.RedisDB = 16 }},
		{"unknown database type", func(c *Config) { c.DatabaseType = "mongodb" }},
		{"non-numeric port", func(c *Config) { c.Port = "http" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
