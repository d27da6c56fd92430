package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string

	// Scheduling policy
	BusinessOpenHour    int
	BusinessCloseHour   int
	BookingLeadTime     time.Duration
	RescheduleLeadTime  time.Duration
	RescheduleMinReason int

	// Payment gateway (Stripe checkout sessions)
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	StripeDryRun        bool
	PaymentCurrency     string

	// Quote cache
	RedisAddr     string
	RedisPassword string
	QuoteTTL      time.Duration

	// Outbox delivery
	OutboxBatchSize    int
	OutboxPollInterval time.Duration

	// SendGrid notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		BusinessOpenHour:    getEnvAsInt("BUSINESS_OPEN_HOUR", 9),
		BusinessCloseHour:   getEnvAsInt("BUSINESS_CLOSE_HOUR", 18),
		BookingLeadTime:     getEnvAsDuration("BOOKING_LEAD_TIME", 30*time.Minute),
		RescheduleLeadTime:  getEnvAsDuration("RESCHEDULE_LEAD_TIME", 2*time.Hour),
		RescheduleMinReason: getEnvAsInt("RESCHEDULE_MIN_REASON_LEN", 5),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		StripeDryRun:        getEnvAsBool("STRIPE_DRY_RUN", false),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "usd"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		QuoteTTL:      getEnvAsDuration("QUOTE_TTL", 5*time.Minute),

		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "CourseLoop"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
