package config

import (
	"fmt"
	"log"
	"net/url"
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

	// Redis configuration (optional intent reference store)
	Redis RedisConfig

	// eSewa payment gateway configuration
	ESewa ESewaConfig

	// Booking flow configuration
	Booking BookingConfig

	// Admin API configuration
	Admin AdminConfig

	// Mailer configuration
	Mailer MailerConfig

	// CORS configuration
	CORS CORSConfig
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
	TxMaxAttempts      int // serializable transaction attempts before giving up
}

// RedisConfig holds Redis connection settings. Empty URL disables Redis.
type RedisConfig struct {
	URL          string
	IntentRefTTL time.Duration
}

// ESewaConfig holds eSewa ePay v2 configuration
type ESewaConfig struct {
	Environment             string // "test" or "production"
	ProductCode             string // merchant code, EPAYTEST in sandbox
	SecretKey               string // HMAC key (SECRET - never expose to client)
	PaymentURL              string // optional override of the form URL
	StatusURL               string // optional override of the status check URL
	VerifyTimeout           time.Duration
	AllowSkipVerification   bool // sandbox only, rejected in production
	VerifyCallbackSignature bool
}

// BookingConfig holds URLs and limits for the booking round trip
type BookingConfig struct {
	PublicBaseURL      string // externally reachable base URL of this API, used for callbacks
	FrontendSuccessURL string
	FrontendFailureURL string
	MaxURLLength       int
	IntentTokenSecret  string // empty disables intent tokens
	IntentTokenTTL     time.Duration
}

// AdminConfig holds settings for the admin endpoints
type AdminConfig struct {
	TokenSecret string // empty disables admin endpoints
	TokenTTL    time.Duration
}

// MailerConfig holds MailerSend settings. Empty API key logs emails instead.
type MailerConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8000"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			TxMaxAttempts:      getEnvAsInt("DATABASE_TX_MAX_ATTEMPTS", 3),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			IntentRefTTL: time.Duration(getEnvAsInt("INTENT_REF_TTL_SECONDS", 3600)) * time.Second,
		},
		ESewa: ESewaConfig{
			Environment:             getEnv("ESEWA_ENVIRONMENT", "test"),
			ProductCode:             getEnv("ESEWA_PRODUCT_CODE", "EPAYTEST"),
			SecretKey:               getEnv("ESEWA_SECRET_KEY", ""),
			PaymentURL:              getEnv("ESEWA_PAYMENT_URL", ""),
			StatusURL:               getEnv("ESEWA_STATUS_URL", ""),
			VerifyTimeout:           time.Duration(getEnvAsInt("ESEWA_VERIFY_TIMEOUT_SECONDS", 15)) * time.Second,
			AllowSkipVerification:   getEnvAsBool("ESEWA_ALLOW_SKIP_VERIFICATION", false),
			VerifyCallbackSignature: getEnvAsBool("ESEWA_VERIFY_CALLBACK_SIGNATURE", true),
		},
		Booking: BookingConfig{
			PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8000"),
			FrontendSuccessURL: getEnv("FRONTEND_SUCCESS_URL", "http://localhost:5173/payment-success"),
			FrontendFailureURL: getEnv("FRONTEND_FAILURE_URL", "http://localhost:5173/payment-failed"),
			MaxURLLength:       getEnvAsInt("INTENT_MAX_URL_LENGTH", 2000),
			IntentTokenSecret:  getEnv("INTENT_TOKEN_SECRET", ""),
			IntentTokenTTL:     time.Duration(getEnvAsInt("INTENT_TOKEN_TTL_SECONDS", 3600)) * time.Second,
		},
		Admin: AdminConfig{
			TokenSecret: getEnv("ADMIN_TOKEN_SECRET", ""),
			TokenTTL:    time.Duration(getEnvAsInt("ADMIN_TOKEN_TTL_SECONDS", 28800)) * time.Second,
		},
		Mailer: MailerConfig{
			APIKey:    getEnv("MAILERSEND_API_KEY", ""),
			FromName:  getEnv("MAIL_FROM_NAME", "Tour Bookings"),
			FromEmail: getEnv("MAIL_FROM_EMAIL", "no-reply@example.com"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Request-ID"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// IsProduction reports whether the server runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ESewa.SecretKey == "" {
		return fmt.Errorf("ESEWA_SECRET_KEY is required")
	}

	if c.ESewa.ProductCode == "" {
		return fmt.Errorf("ESEWA_PRODUCT_CODE is required")
	}

	if c.ESewa.Environment != "test" && c.ESewa.Environment != "production" {
		return fmt.Errorf("ESEWA_ENVIRONMENT must be 'test' or 'production'")
	}

	if c.ESewa.VerifyTimeout <= 0 {
		return fmt.Errorf("ESEWA_VERIFY_TIMEOUT_SECONDS must be positive")
	}

	if c.ESewa.AllowSkipVerification && (c.IsProduction() || c.ESewa.Environment == "production") {
		return fmt.Errorf("ESEWA_ALLOW_SKIP_VERIFICATION cannot be enabled in production or against the live gateway")
	}

	if c.IsProduction() {
		if c.ESewa.Environment != "production" {
			return fmt.Errorf("ESEWA_ENVIRONMENT must be 'production' when ENVIRONMENT is production")
		}
		if c.ESewa.ProductCode == "EPAYTEST" {
			return fmt.Errorf("ESEWA_PRODUCT_CODE cannot be the sandbox merchant in production")
		}
	}

	for name, raw := range map[string]string{
		"PUBLIC_BASE_URL":      c.Booking.PublicBaseURL,
		"FRONTEND_SUCCESS_URL": c.Booking.FrontendSuccessURL,
		"FRONTEND_FAILURE_URL": c.Booking.FrontendFailureURL,
	} {
		if err := validateAbsoluteURL(raw); err != nil {
			return fmt.Errorf("%s %v", name, err)
		}
	}

	if c.Booking.MaxURLLength <= 0 {
		return fmt.Errorf("INTENT_MAX_URL_LENGTH must be positive")
	}

	if c.Database.TxMaxAttempts < 1 {
		return fmt.Errorf("DATABASE_TX_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}

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
