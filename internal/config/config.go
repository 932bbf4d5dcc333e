// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe settings
	StripeSecretKey     string
	StripeWebhookSecret string

	// Checkout settings
	SuccessURL string // Default redirect after a successful checkout
	CancelURL  string // Default redirect after a cancelled checkout

	// Download token settings
	DownloadTokenTTL time.Duration
	MaxDownloads     int
	DownloadBaseURL  string // Public base URL for download links in emails

	// Stale pending purchase sweep
	PendingPurchaseAge time.Duration

	// Email settings
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string

	// Security
	AdminSecret    string
	AllowedOrigins []string

	// Payment link rate limiting
	LinkRateWindow time.Duration
	LinkRateQuota  int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultDownloadTokenTTL   = 48 * time.Hour
	DefaultMaxDownloads       = 5
	DefaultPendingPurchaseAge = 24 * time.Hour
	DefaultLinkRateWindow     = 60 * time.Second
	DefaultLinkRateQuota      = 10
	DefaultSMTPPort           = 587
	DefaultEmailFrom          = "receipts@fiscal.fm"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SuccessURL:          getEnv("CHECKOUT_SUCCESS_URL", "https://fiscal.fm/thank-you"),
		CancelURL:           getEnv("CHECKOUT_CANCEL_URL", "https://fiscal.fm/library"),
		DownloadTokenTTL:    getEnvDuration("DOWNLOAD_TOKEN_TTL", DefaultDownloadTokenTTL),
		MaxDownloads:        int(getEnvInt64("MAX_DOWNLOADS", DefaultMaxDownloads)),
		DownloadBaseURL:     getEnv("DOWNLOAD_BASE_URL", "https://api.fiscal.fm/v1/downloads"),
		PendingPurchaseAge:  getEnvDuration("PENDING_PURCHASE_AGE", DefaultPendingPurchaseAge),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            int(getEnvInt64("SMTP_PORT", DefaultSMTPPort)),
		SMTPUser:            os.Getenv("SMTP_USER"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		EmailFrom:           getEnv("EMAIL_FROM", DefaultEmailFrom),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LinkRateWindow:      getEnvDuration("LINK_RATE_WINDOW", DefaultLinkRateWindow),
		LinkRateQuota:       int(getEnvInt64("LINK_RATE_QUOTA", DefaultLinkRateQuota)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must be a Stripe secret key (sk_... or rk_...)")
	}

	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if !strings.HasPrefix(c.StripeWebhookSecret, "whsec_") {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET must be a webhook signing secret (whsec_...)")
	}

	if c.MaxDownloads <= 0 {
		return fmt.Errorf("MAX_DOWNLOADS must be positive")
	}
	if c.DownloadTokenTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_TOKEN_TTL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
