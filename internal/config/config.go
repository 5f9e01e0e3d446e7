package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application. It is built once in main
// and handed to each component at construction; nothing reads the environment
// after startup.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// OllamaURL is the base URL of the caption generation service.
	OllamaURL string

	// OllamaModel is the model used when a client has none configured.
	OllamaModel string

	// DefaultTimezone is applied when a client's timezone is missing or invalid.
	DefaultTimezone string

	// DefaultWeeklyLimit is the quota used when neither the client's plan nor
	// the "free" plan can be found.
	DefaultWeeklyLimit int

	// Facebook OAuth app credentials (the token exchange glue).
	FBAppID       string
	FBAppSecret   string
	FBRedirectURI string
	FBAPIURL      string

	// StripeWebhookSecret verifies billing webhook signatures.
	StripeWebhookSecret string

	// Worker cadences.
	PublishSweepInterval time.Duration
	NextPostInterval     time.Duration
	AISchedulerInterval  time.Duration

	// UsageRetentionWeeks is how many weeks of weekly_usage rows to keep.
	UsageRetentionWeeks int
}

// FromEnv reads configuration from environment variables with defaults that
// match the documented behavior (timezone America/Los_Angeles, quota 3).
func FromEnv() (*Config, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg := &Config{
		Port:                 envOr("PORT", "18912"),
		DatabaseURL:          databaseURL,
		OllamaURL:            envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:          envOr("OLLAMA_MODEL", "llama3"),
		DefaultTimezone:      envOr("DEFAULT_TIMEZONE", "America/Los_Angeles"),
		DefaultWeeklyLimit:   3,
		FBAppID:              os.Getenv("FB_APP_ID"),
		FBAppSecret:          os.Getenv("FB_APP_SECRET"),
		FBRedirectURI:        envOr("FB_REDIRECT_URI", "http://localhost:3000/facebook/connected"),
		FBAPIURL:             envOr("FB_API_URL", "https://graph.facebook.com/v24.0"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PublishSweepInterval: envSeconds("PUBLISH_SWEEP_INTERVAL_SECONDS", 600),
		NextPostInterval:     envSeconds("NEXT_POST_INTERVAL_SECONDS", 1800),
		AISchedulerInterval:  envSeconds("AI_SCHEDULER_INTERVAL_SECONDS", 300),
		UsageRetentionWeeks:  26,
	}

	if v := os.Getenv("DEFAULT_WEEKLY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid DEFAULT_WEEKLY_LIMIT: %q", v)
		}
		cfg.DefaultWeeklyLimit = n
	}
	if v := os.Getenv("USAGE_RETENTION_WEEKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid USAGE_RETENTION_WEEKS: %q", v)
		}
		cfg.UsageRetentionWeeks = n
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(def) * time.Second
}
