package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
	Gateway  GatewayConfig
	Auth     AuthConfig
	Worker   WorkerConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPort int
	// Peer service base URLs for cross-service calls
	SubscriptionServiceURL string
	PaymentServiceURL      string
	AppName                string
	AppVersion             string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	MaxConns int
}

// WebhookConfig holds HMAC webhook configuration. Secrets are per direction.
type WebhookConfig struct {
	SigningSecret    string // secret for webhooks this service sends
	VerifySecret     string // secret for webhooks this service receives
	ToleranceSeconds int
	TimeoutSeconds   int
	Retries          int
}

// GatewayConfig holds the simulated payment gateway parameters
type GatewayConfig struct {
	MinDelayMS  int
	MaxDelayMS  int
	SuccessRate float64
	SuccessCard string
	FailCard    string
}

// AuthConfig holds JWT configuration for user and service tokens
type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	ServiceTokenExpiry time.Duration
}

// WorkerConfig holds worker loop cadences
type WorkerConfig struct {
	Concurrency      int
	PumpInterval     time.Duration
	SweepInterval    time.Duration
	ClaimTimeout     time.Duration
	ShutdownGrace    time.Duration
	UsageSyncEnabled bool
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables. A .env file in
// the working directory is applied first when present.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:                   getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                   getEnvAsInt("SERVER_PORT", 8000),
			MetricsPort:            getEnvAsInt("METRICS_PORT", 9090),
			SubscriptionServiceURL: getEnv("SUBSCRIPTION_SERVICE_URL", "http://localhost:8000"),
			PaymentServiceURL:      getEnv("PAYMENT_SERVICE_URL", "http://localhost:8001"),
			AppName:                getEnv("APP_NAME", "billing-backend"),
			AppVersion:             getEnv("APP_VERSION", "0.1.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "billing"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			MaxConns: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
		},
		Webhook: WebhookConfig{
			SigningSecret:    getEnv("WEBHOOK_SIGNING_SECRET", ""),
			VerifySecret:     getEnv("WEBHOOK_VERIFY_SECRET", ""),
			ToleranceSeconds: getEnvAsInt("WEBHOOK_TOLERANCE_SECONDS", 300),
			TimeoutSeconds:   getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 30),
			Retries:          getEnvAsInt("WEBHOOK_RETRIES", 3),
		},
		Gateway: GatewayConfig{
			MinDelayMS:  getEnvAsInt("GATEWAY_MIN_DELAY_MS", 100),
			MaxDelayMS:  getEnvAsInt("GATEWAY_MAX_DELAY_MS", 1500),
			SuccessRate: getEnvAsFloat("GATEWAY_SUCCESS_RATE", 0.9),
			SuccessCard: getEnv("PAYMENT_GATEWAY_SUCCESS_CARD", "4242424242424242"),
			FailCard:    getEnv("PAYMENT_GATEWAY_FAIL_CARD", "4000000000000002"),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("JWT_SECRET_KEY", ""),
			AccessTokenExpiry:  time.Duration(getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
			ServiceTokenExpiry: time.Duration(getEnvAsInt("SERVICE_TOKEN_EXPIRE_MINUTES", 5)) * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:      getEnvAsInt("WORKER_CONCURRENCY", 2),
			PumpInterval:     time.Duration(getEnvAsInt("QUEUE_PUMP_INTERVAL_SECONDS", 5)) * time.Second,
			SweepInterval:    time.Duration(getEnvAsInt("QUEUE_SWEEP_INTERVAL_SECONDS", 20)) * time.Second,
			ClaimTimeout:     time.Duration(getEnvAsInt("QUEUE_CLAIM_TIMEOUT_SECONDS", 1)) * time.Second,
			ShutdownGrace:    time.Duration(getEnvAsInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,
			UsageSyncEnabled: getEnvAsBool("USAGE_SYNC_ENABLED", true),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Webhook.SigningSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SIGNING_SECRET is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	// Symmetric deployments may share one secret for both directions.
	if cfg.Webhook.VerifySecret == "" {
		cfg.Webhook.VerifySecret = cfg.Webhook.SigningSecret
	}

	return cfg, nil
}

// ConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
