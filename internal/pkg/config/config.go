// Package config collects the pipeline settings from the environment and validates them once at startup.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/BillingSync/internal/pkg/env"
	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
)

type StripeConfig struct {
	SecretKey      string        `validate:"required"`
	WebhookSecrets []string      `validate:"required,min=1,dive,required"`
	Tolerance      time.Duration `validate:"gt=0"`
	APIRate        float64       `validate:"gt=0"`
	APIBurst       int           `validate:"gte=1"`
	APIMaxRetries  int           `validate:"gte=0,lte=10"`
}

type WebhookConfig struct {
	Workers     int             `validate:"gte=1,lte=100"`
	MaxAttempts int             `validate:"gte=1,lte=50"`
	RetryDelays []time.Duration `validate:"min=1"`
	StaleAfter  time.Duration   `validate:"gt=0"`
}

type Config struct {
	AppHost string `validate:"required"`
	AppPort string `validate:"required,numeric"`

	Stripe   StripeConfig
	Webhooks WebhookConfig

	GracePeriodDays int `validate:"gte=1,lte=90"`
	NotifyWorkers   int `validate:"gte=1,lte=100"`
	// AdminAPIToken guards /admin; admin routes are disabled when empty.
	AdminAPIToken string
}

const defaultRetryDelays = "30s,2m,10m,30m"

// Load reads the configuration. env.SetupEnvFile must have run before.
func Load() (*Config, error) {
	delays, err := jobqueue.ParseDelays(env.GetEnv("WEBHOOK_JOB_RETRY_DELAYS", defaultRetryDelays))
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_JOB_RETRY_DELAYS: %w", err)
	}
	rate, err := strconv.ParseFloat(strings.TrimSpace(env.GetEnv("STRIPE_API_RATE", "20")), 64)
	if err != nil {
		return nil, fmt.Errorf("STRIPE_API_RATE: %w", err)
	}

	cfg := &Config{
		AppHost: env.GetEnv("APP_HOST", "localhost"),
		AppPort: env.GetEnv("APP_PORT", "4000"),
		Stripe: StripeConfig{
			SecretKey:      env.GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecrets: env.GetEnvList("STRIPE_WEBHOOK_SECRETS"),
			Tolerance:      env.GetEnvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			APIRate:        rate,
			APIBurst:       env.GetEnvInt("STRIPE_API_BURST", 5),
			APIMaxRetries:  env.GetEnvInt("STRIPE_API_MAX_RETRIES", 3),
		},
		Webhooks: WebhookConfig{
			Workers:     env.GetEnvInt("WEBHOOK_QUEUE_WORKERS", 5),
			MaxAttempts: env.GetEnvInt("WEBHOOK_JOB_MAX_ATTEMPTS", 5),
			RetryDelays: delays,
			StaleAfter:  env.GetEnvDuration("WEBHOOK_STALE_AFTER", 15*time.Minute),
		},
		GracePeriodDays: env.GetEnvInt("BILLING_GRACE_PERIOD_DAYS", 7),
		NotifyWorkers:   env.GetEnvInt("NOTIFY_QUEUE_WORKERS", 2),
		AdminAPIToken:   env.GetEnv("ADMIN_API_TOKEN", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// WebhookRetryPolicy is the bounded retry policy of the webhooks queue.
func (c *Config) WebhookRetryPolicy() jobqueue.RetryPolicy {
	return jobqueue.RetryPolicy{
		MaxAttempts: c.Webhooks.MaxAttempts,
		Delays:      c.Webhooks.RetryDelays,
	}
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
