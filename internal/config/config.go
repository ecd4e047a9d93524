package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	Port     string
	Storage  string
	DBConn   string
	LogLevel string

	JWTSecret string
	JWTTTL    time.Duration

	HMACSecret    string
	EncryptionKey string

	CardPrefix       string
	IssueMaxAttempts int

	LockBackend string
	LockTimeout time.Duration
	RedisAddr   string

	NATSURL   string
	NATSToken string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	ExpiryReminderSpec string

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// NewConfig loads configuration from a .env file, if present, and environment variables
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Storage:            getEnv("STORAGE", StoragePostgres),
		DBConn:             getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:          getEnv("JWT_SECRET", "secret"),
		HMACSecret:         getEnv("HMAC_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		EncryptionKey:      getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		CardPrefix:         getEnv("CARD_PREFIX", "3985"),
		LockBackend:        getEnv("LOCK_BACKEND", LockBackendMemory),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:            getEnv("NATS_URL", ""),
		NATSToken:          getEnv("NATS_TOKEN", ""),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnv("SMTP_PORT", "587"),
		SMTPUsername:       getEnv("SMTP_USERNAME", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SenderEmail:        getEnv("SENDER_EMAIL", "noreply@bankcards.local"),
		ExpiryReminderSpec: getEnv("EXPIRY_REMINDER_SPEC", "0 9 1 * *"),
		AdminUsername:      getEnv("ADMIN_USERNAME", ""),
		AdminEmail:         getEnv("ADMIN_EMAIL", ""),
		AdminPassword:      getEnv("ADMIN_PASSWORD", ""),
	}

	var err error
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getDuration("LOCK_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.IssueMaxAttempts, err = getInt("ISSUE_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DBConn == "" {
			return fmt.Errorf("DB_CONN is required")
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}
	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendMemory, LockBackendRedis, c.LockBackend)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HMACSecret == "" {
		return fmt.Errorf("HMAC_SECRET is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if key, err := hex.DecodeString(c.EncryptionKey); err != nil || len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters")
	}
	if c.IssueMaxAttempts < 1 {
		return fmt.Errorf("ISSUE_MAX_ATTEMPTS must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	return nil
}

// MailEnabled reports whether SMTP notifications are configured
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
