// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

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

	// Queue
	AMQPURL           string // RabbitMQ URL (optional, ingest scores inline if not set)
	ScoringExchange   string
	ScoringQueue      string
	ScoringRoutingKey string

	// Classifier
	ModelPath     string  // Path to the trained model artifact (optional, demo model if not set)
	FlagThreshold float64 // Rule score above which a transaction is flagged
	AlertLookback int     // How many recent correlation entries a reply can resolve

	// SMS transport (Twilio-compatible Messages API)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioBaseURL    string

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultScoringExchange   = "phishnet.transactions"
	DefaultScoringQueue      = "phishnet.scoring"
	DefaultScoringRoutingKey = "transaction.created"
	DefaultFlagThreshold     = 50.0
	DefaultAlertLookback     = 5
	DefaultTwilioBaseURL     = "https://api.twilio.com"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AMQPURL:           os.Getenv("AMQP_URL"),     // Optional, scores inline if not set
		ScoringExchange:   getEnv("SCORING_EXCHANGE", DefaultScoringExchange),
		ScoringQueue:      getEnv("SCORING_QUEUE", DefaultScoringQueue),
		ScoringRoutingKey: getEnv("SCORING_ROUTING_KEY", DefaultScoringRoutingKey),
		ModelPath:         os.Getenv("MODEL_PATH"),
		FlagThreshold:     getEnvFloat("FLAG_THRESHOLD", DefaultFlagThreshold),
		AlertLookback:     int(getEnvInt64("ALERT_LOOKBACK", DefaultAlertLookback)),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM"),
		TwilioBaseURL:     getEnv("TWILIO_BASE_URL", DefaultTwilioBaseURL),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.FlagThreshold < 0 {
		return fmt.Errorf("FLAG_THRESHOLD must be non-negative")
	}
	if c.AlertLookback <= 0 {
		return fmt.Errorf("ALERT_LOOKBACK must be positive")
	}

	// Twilio credentials are all-or-nothing: a partial set is a deploy
	// mistake, not a request for log-only mode.
	set := 0
	for _, v := range []string{c.TwilioAccountSID, c.TwilioAuthToken, c.TwilioFrom} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM must be set together")
	}

	return nil
}

// SMSEnabled reports whether a real SMS transport is configured.
func (c *Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
