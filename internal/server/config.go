package server

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing service.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int

	AdminKey    string // operator API key
	InternalKey string // shared secret between the app backend and this service

	AppAPIURL  string // base URL of the job-tracking backend (application counts)
	AppBaseURL string // public URL of the web app (checkout redirect targets)

	StripeAPIKey        string
	StripeWebhookSecret string
	StripePriceID       string

	CheckoutSuccessURL string
	CheckoutCancelURL  string

	LogLevel  string
	LogFormat string
}

// EntitlementDir returns the directory holding the entitlement database.
func (c *Config) EntitlementDir() string {
	return filepath.Join(c.DataDir, "billing")
}

// LoadConfig loads service configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BILLING_PORT", 8200)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("BILLING_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("BILLING_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("BILLING_ADMIN_KEY")),
		InternalKey:         strings.TrimSpace(os.Getenv("BILLING_INTERNAL_KEY")),
		AppAPIURL:           strings.TrimSpace(os.Getenv("BILLING_APP_API_URL")),
		AppBaseURL:          strings.TrimSpace(os.Getenv("BILLING_APP_BASE_URL")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceID:       strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID")),
		CheckoutSuccessURL:  strings.TrimSpace(os.Getenv("BILLING_CHECKOUT_SUCCESS_URL")),
		CheckoutCancelURL:   strings.TrimSpace(os.Getenv("BILLING_CHECKOUT_CANCEL_URL")),
		LogLevel:            envOrDefault("BILLING_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("BILLING_LOG_FORMAT", "auto"),
	}

	if cfg.CheckoutSuccessURL == "" && cfg.AppBaseURL != "" {
		cfg.CheckoutSuccessURL = cfg.AppBaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if cfg.CheckoutCancelURL == "" && cfg.AppBaseURL != "" {
		cfg.CheckoutCancelURL = cfg.AppBaseURL + "/billing/cancelled"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "BILLING_ADMIN_KEY")
	}
	if c.InternalKey == "" {
		missing = append(missing, "BILLING_INTERNAL_KEY")
	}
	if c.AppAPIURL == "" {
		missing = append(missing, "BILLING_APP_API_URL")
	}
	if c.AppBaseURL == "" {
		missing = append(missing, "BILLING_APP_BASE_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BILLING_PORT must be between 1 and 65535, got %d", c.Port)
	}

	for name, raw := range map[string]string{
		"BILLING_APP_API_URL":  c.AppAPIURL,
		"BILLING_APP_BASE_URL": c.AppBaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s must be a valid URL: %w", name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must use http or https scheme", name)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}
