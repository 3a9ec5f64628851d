package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (quote store)
	Redis RedisConfig

	// JWT configuration (operator tokens)
	JWT JWTConfig

	// SMS configuration (buyer notifications)
	SMS SMSConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Inventory provider configuration
	Inventory InventoryConfig

	// Saga timing configuration
	Saga SagaConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// RedisConfig holds the quote store connection settings
type RedisConfig struct {
	URL       string // empty = in-process store (development only)
	KeyPrefix string
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// SMSConfig holds SMS gateway configuration
type SMSConfig struct {
	Mode     string // "dev" logs messages, "production" sends them
	APIURL   string
	Username string
	Password string
	Mask     string
}

// RateLimitConfig holds per-IP rate limiting for public booking routes
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds checkout gateway configuration
type PaymentConfig struct {
	Provider   string // "stripe" or "hosted"
	SuccessURL string // buyer redirect after payment
	CancelURL  string // buyer redirect after abandoning checkout

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Hosted IPG
	HostedEnvironment   string // "sandbox" or "production"
	HostedMerchantKey   string
	HostedMerchantToken string // SECRET - used for check values only, never sent
	HostedWebhookURL    string
}

// InventoryConfig holds the inventory provider client configuration
type InventoryConfig struct {
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	RetryAttempts       int
	RetryBaseDelay      time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// SagaConfig holds saga timing configuration
type SagaConfig struct {
	HoldWindow       time.Duration // max time a revalidated price is honored
	SweepGrace       time.Duration // how long past hold expiry before a session is closed
	ReconcileAfter   time.Duration // age after which processing_provider is re-driven
	PollInterval     time.Duration
	PollMaxAttempts  int
	WorkerBatchLimit int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "booking-saga"),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		SMS: SMSConfig{
			Mode:     getEnv("SMS_MODE", "dev"),
			APIURL:   getEnv("SMS_API_URL", ""),
			Username: getEnv("SMS_USERNAME", ""),
			Password: getEnv("SMS_PASSWORD", ""),
			Mask:     getEnv("SMS_MASK", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Payment: PaymentConfig{
			Provider:            getEnv("PAYMENT_PROVIDER", "stripe"),
			SuccessURL:          getEnv("PAYMENT_SUCCESS_URL", ""),
			CancelURL:           getEnv("PAYMENT_CANCEL_URL", ""),
			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			HostedEnvironment:   getEnv("HOSTED_IPG_ENVIRONMENT", "sandbox"),
			HostedMerchantKey:   getEnv("HOSTED_IPG_MERCHANT_KEY", ""),
			HostedMerchantToken: getEnv("HOSTED_IPG_MERCHANT_TOKEN", ""),
			HostedWebhookURL:    getEnv("HOSTED_IPG_WEBHOOK_URL", ""),
		},
		Inventory: InventoryConfig{
			BaseURL:             getEnv("INVENTORY_BASE_URL", ""),
			APIKey:              getEnv("INVENTORY_API_KEY", ""),
			Timeout:             getEnvAsDuration("INVENTORY_TIMEOUT", 15*time.Second),
			RetryAttempts:       getEnvAsInt("INVENTORY_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:      getEnvAsDuration("INVENTORY_RETRY_BASE_DELAY", 200*time.Millisecond),
			BreakerMaxFailures:  getEnvAsInt("INVENTORY_BREAKER_MAX_FAILURES", 5),
			BreakerResetTimeout: getEnvAsDuration("INVENTORY_BREAKER_RESET_TIMEOUT", 30*time.Second),
		},
		Saga: SagaConfig{
			HoldWindow:       getEnvAsDuration("SAGA_HOLD_WINDOW", 30*time.Minute),
			SweepGrace:       getEnvAsDuration("SAGA_SWEEP_GRACE", 5*time.Minute),
			ReconcileAfter:   getEnvAsDuration("SAGA_RECONCILE_AFTER", 10*time.Minute),
			PollInterval:     getEnvAsDuration("SAGA_POLL_INTERVAL", 8*time.Second),
			PollMaxAttempts:  getEnvAsInt("SAGA_POLL_MAX_ATTEMPTS", 45),
			WorkerBatchLimit: getEnvAsInt("SAGA_WORKER_BATCH_LIMIT", 100),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Inventory.BaseURL == "" {
		return fmt.Errorf("INVENTORY_BASE_URL is required")
	}

	switch c.Payment.Provider {
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		if c.Payment.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required for the stripe provider")
		}
	case "hosted":
		if c.Payment.HostedMerchantKey == "" || c.Payment.HostedMerchantToken == "" {
			return fmt.Errorf("HOSTED_IPG_MERCHANT_KEY and HOSTED_IPG_MERCHANT_TOKEN are required for the hosted provider")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_PROVIDER: %s (must be 'stripe' or 'hosted')", c.Payment.Provider)
	}

	if c.Saga.HoldWindow <= 0 {
		return fmt.Errorf("SAGA_HOLD_WINDOW must be positive")
	}

	if c.Saga.PollMaxAttempts < 1 {
		return fmt.Errorf("SAGA_POLL_MAX_ATTEMPTS must be at least 1")
	}

	if c.SMS.Mode == "production" && (c.SMS.APIURL == "" || c.SMS.Username == "" || c.SMS.Password == "") {
		return fmt.Errorf("SMS_API_URL, SMS_USERNAME and SMS_PASSWORD are required in production SMS mode")
	}

	if c.Server.Environment == "production" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required in production")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
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
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30m", "8s")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
