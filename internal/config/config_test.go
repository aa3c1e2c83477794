package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:               "development",
		JWTSecret:         "secure-secret-at-least-32-chars-long",
		Port:              "8080",
		RedisURL:          "redis://localhost:6379",
		DocstoreDriver:    DriverRedis,
		UsersDBDriver:     DriverPostgres,
		DBPassword:        "secure-password",
		EnrichConcurrency: 4,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid development", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"unknown docstore driver", func(c *Config) { c.DocstoreDriver = "firestore" }, true},
		{"redis driver without url", func(c *Config) { c.RedisURL = "" }, true},
		{"memory driver without url", func(c *Config) {
			c.DocstoreDriver = DriverMemory
			c.RedisURL = ""
		}, false},
		{"unknown users driver", func(c *Config) { c.UsersDBDriver = "mysql" }, true},
		{"zero enrich concurrency", func(c *Config) { c.EnrichConcurrency = 0 }, true},
		{"production default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "your-secret-key-change-in-production"
		}, true},
		{"production memory store", func(c *Config) {
			c.Env = "prod"
			c.DocstoreDriver = DriverMemory
		}, true},
		{"production weak db password", func(c *Config) {
			c.Env = "production"
			c.DBPassword = "password"
		}, true},
		{"production sqlite ignores db password", func(c *Config) {
			c.Env = "production"
			c.UsersDBDriver = DriverSQLite
			c.DBPassword = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DOCSTORE_DRIVER", "memory")
	t.Setenv("IDENTITY_CACHE_TTL", "90s")
	t.Setenv("ENRICH_CONCURRENCY", "3")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, c.DocstoreDriver)
	assert.Equal(t, 90*time.Second, c.IdentityCacheTTL)
	assert.Equal(t, 3, c.EnrichConcurrency)
	assert.Equal(t, "posts", c.DocstoreNamespace)
}

func TestLoadConfig_InvalidDriverRejected(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DOCSTORE_DRIVER", "cassandra")

	_, err := LoadConfig()
	assert.Error(t, err)
}
