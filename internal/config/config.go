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

	// Score engine
	MutationTimeout time.Duration // Per-mutation transaction budget

	// Recovery scheduler
	RecoveryInterval time.Duration // How often the sweep runs
	RecoveryWindow   time.Duration // "One recovery per period" window
	SweepTimeout     time.Duration // Overall budget for a single sweep

	// Identity verification
	StripeKey           string // Stripe secret key for Identity verification sessions
	StripeWebhookSecret string // Signing secret for the Stripe webhook endpoint

	// Security
	AdminSecret  string   // Admin API secret (weight config, manual recovery)
	RateLimitRPM int
	CORSOrigins  []string // Allowed CORS origins; empty allows any

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultMutationTimeout  = 5 * time.Second
	DefaultRecoveryInterval = 24 * time.Hour
	DefaultRecoveryWindow   = 24 * time.Hour
	DefaultSweepTimeout     = 10 * time.Minute
	DefaultRateLimit        = 120
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
		MutationTimeout:     getEnvDuration("MUTATION_TIMEOUT", DefaultMutationTimeout),
		RecoveryInterval:    getEnvDuration("RECOVERY_INTERVAL", DefaultRecoveryInterval),
		RecoveryWindow:      getEnvDuration("RECOVERY_WINDOW", DefaultRecoveryWindow),
		SweepTimeout:        getEnvDuration("SWEEP_TIMEOUT", DefaultSweepTimeout),
		StripeKey:           os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		CORSOrigins:         splitEnvList("CORS_ORIGINS"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.RecoveryInterval <= 0 {
		return fmt.Errorf("RECOVERY_INTERVAL must be positive")
	}
	if c.RecoveryWindow <= 0 {
		return fmt.Errorf("RECOVERY_WINDOW must be positive")
	}
	if c.MutationTimeout <= 0 {
		return fmt.Errorf("MUTATION_TIMEOUT must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
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

func splitEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
