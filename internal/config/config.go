package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis-backed cache invalidation
	Redis RedisConfig

	// Transactional email API
	Email EmailConfig

	// Inbound webhook settings
	Webhook WebhookConfig

	// Reconciliation and effect timeouts
	Sync SyncConfig

	// Logging configuration
	Log LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string        `validate:"required,numeric"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host           string `validate:"required"`
	Port           string `validate:"required"`
	User           string
	Password       string
	Name           string `validate:"required"`
	SSLMode        string `validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns   int    `validate:"gte=1"`
	MaxIdleConns   int    `validate:"gte=0"`
	MaxLifetime    time.Duration
	MigrationsPath string
}

// RedisConfig holds the cache invalidation target
type RedisConfig struct {
	URL       string `validate:"required"`
	KeyPrefix string
	Channel   string `validate:"required"`
}

// EmailConfig holds the transactional email API settings
type EmailConfig struct {
	BaseURL    string `validate:"required,url"`
	APIKey     string
	From       string `validate:"required,email"`
	Timeout    time.Duration
	RetryCount int `validate:"gte=0,lte=5"`
}

// WebhookConfig holds the inbound notification settings. Secret is read once
// at startup and never logged.
type WebhookConfig struct {
	Secret          string `validate:"required,min=16"`
	SignatureHeader string `validate:"required"`
	MaxBodyBytes    int64  `validate:"gt=0"`
}

// SyncConfig bounds the work done for a single notification
type SyncConfig struct {
	ReconcileTimeout time.Duration `validate:"gt=0"`
	EffectTimeout    time.Duration `validate:"gt=0"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string // "json" or "pretty"
}

// Load reads configuration from environment variables, after loading a .env
// file when one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	secret, err := loadSecret()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			Name:           getEnv("DB_NAME", "content_sync"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:    getDurationEnv("DB_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "render:"),
			Channel:   getEnv("REDIS_INVALIDATION_CHANNEL", "content:invalidate"),
		},
		Email: EmailConfig{
			BaseURL:    getEnv("EMAIL_API_URL", "http://localhost:8025/api"),
			APIKey:     getEnv("EMAIL_API_KEY", ""),
			From:       getEnv("EMAIL_FROM", "no-reply@example.org"),
			Timeout:    getDurationEnv("EMAIL_TIMEOUT", 10*time.Second),
			RetryCount: getIntEnv("EMAIL_RETRY_COUNT", 2),
		},
		Webhook: WebhookConfig{
			Secret:          secret,
			SignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
			MaxBodyBytes:    getInt64Env("WEBHOOK_MAX_BODY_BYTES", 1<<20), // 1MB
		},
		Sync: SyncConfig{
			ReconcileTimeout: getDurationEnv("SYNC_RECONCILE_TIMEOUT", 10*time.Second),
			EffectTimeout:    getDurationEnv("SYNC_EFFECT_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must not exceed DB_MAX_OPEN_CONNS")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// loadSecret resolves the webhook signing secret. WEBHOOK_SECRET_FILE wins
// over WEBHOOK_SECRET so mounted secrets can replace plain env vars.
func loadSecret() (string, error) {
	if path := os.Getenv("WEBHOOK_SECRET_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read WEBHOOK_SECRET_FILE: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return os.Getenv("WEBHOOK_SECRET"), nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
