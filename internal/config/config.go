// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"APP_ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	AllowedOrigins    string        `mapstructure:"ALLOWED_ORIGINS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	DocstoreDriver    string        `mapstructure:"DOCSTORE_DRIVER"`
	DocstoreNamespace string        `mapstructure:"DOCSTORE_NAMESPACE"`
	UsersDBDriver     string        `mapstructure:"USERS_DB_DRIVER"`
	SQLitePath        string        `mapstructure:"SQLITE_PATH"`
	DBHost            string        `mapstructure:"DB_HOST"`
	DBPort            string        `mapstructure:"DB_PORT"`
	DBUser            string        `mapstructure:"DB_USER"`
	DBPassword        string        `mapstructure:"DB_PASSWORD"`
	DBName            string        `mapstructure:"DB_NAME"`
	DBSSLMode         string        `mapstructure:"DB_SSLMODE"`
	IdentityCacheTTL  time.Duration `mapstructure:"IDENTITY_CACHE_TTL"`
	EnrichConcurrency int           `mapstructure:"ENRICH_CONCURRENCY"`
	WriteRateLimit    int           `mapstructure:"WRITE_RATE_LIMIT"`
	TracingEnabled    bool          `mapstructure:"TRACING_ENABLED"`
	TracingExporter   string        `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint      string        `mapstructure:"OTLP_ENDPOINT"`
}

// Document store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// User directory drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base file is optional; env vars and defaults are enough to boot.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) || env == "production" {
				return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("DOCSTORE_DRIVER", DriverRedis)
	v.SetDefault("DOCSTORE_NAMESPACE", "posts")
	v.SetDefault("USERS_DB_DRIVER", DriverPostgres)
	v.SetDefault("SQLITE_PATH", "classroom.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "classroom")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("IDENTITY_CACHE_TTL", "5m")
	v.SetDefault("ENRICH_CONCURRENCY", 8)
	v.SetDefault("WRITE_RATE_LIMIT", 30)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.DocstoreDriver {
	case DriverMemory, DriverRedis:
	default:
		return fmt.Errorf("DOCSTORE_DRIVER must be %q or %q, got %q", DriverMemory, DriverRedis, c.DocstoreDriver)
	}
	if c.DocstoreDriver == DriverRedis && c.RedisURL == "" {
		return errors.New("REDIS_URL is required when DOCSTORE_DRIVER is redis")
	}

	switch c.UsersDBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("USERS_DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.UsersDBDriver)
	}

	if c.EnrichConcurrency <= 0 {
		return errors.New("ENRICH_CONCURRENCY must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DocstoreDriver == DriverMemory {
			return errors.New("DOCSTORE_DRIVER=memory is not allowed in production")
		}
		if c.UsersDBDriver == DriverPostgres && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
