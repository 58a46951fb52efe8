// Package config defines the process configuration for tenantgate.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"time"

	"tenantgate/internal/types"
)

// SecretString is an alias for types.SecretString so callers can build a
// Config in tests without importing types.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tenantgate"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Billing   BillingConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Retention RetentionConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// JobConfig is the configuration of the scheduled jobs (cmd/retention).
type JobConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database  DatabaseConfig
	AWS       AWSConfig
	Retention RetentionConfig

	PlansFile    string `envconfig:"PLANS_FILE"`
	FallbackPlan string `envconfig:"BILLING_FALLBACK_PLAN" default:"pro" validate:"required"`

	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// TrustedProxyHops is the number of proxies in front of the API that
	// append to X-Forwarded-For. Zero ignores the header.
	TrustedProxyHops int `envconfig:"TRUSTED_PROXY_HOPS" default:"0" validate:"min=0,max=8"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS region and metric settings used by the retention Lambda.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL     string `envconfig:"AWS_ENDPOINT_URL"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TenantGate"`
}

// BillingConfig holds Stripe credentials and the price-to-plan mapping inputs
// for the plan registry.
type BillingConfig struct {
	StripeSecretKey     SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeAPIBase       string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`
	WebhookTolerance    time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`

	PriceIDPro        string `envconfig:"STRIPE_PRICE_PRO"`
	PriceIDEnterprise string `envconfig:"STRIPE_PRICE_ENTERPRISE"`
	FallbackPlan      string `envconfig:"BILLING_FALLBACK_PLAN" default:"pro" validate:"required"`

	// PlansFile optionally points at a YAML plan table that replaces the
	// built-in defaults.
	PlansFile string `envconfig:"PLANS_FILE"`
}

// AuthConfig holds credentials for session verification and the scheduler.
type AuthConfig struct {
	SessionSigningKey SecretString `envconfig:"SESSION_SIGNING_KEY" validate:"required,min=32"`
	SessionIssuer     string       `envconfig:"SESSION_ISSUER" default:"tenantgate-identity"`
	SchedulerSecret   SecretString `envconfig:"SCHEDULER_SECRET" validate:"required,min=16"`
}

// RateLimitConfig configures the signup throttle and the public flood guard.
type RateLimitConfig struct {
	Backend      string        `envconfig:"RATE_LIMIT_BACKEND" default:"postgres" validate:"oneof=memory postgres redis"`
	RedisURL     SecretString  `envconfig:"REDIS_URL"`
	SignupLimit  int           `envconfig:"SIGNUP_RATE_LIMIT" default:"5" validate:"min=1"`
	SignupWindow time.Duration `envconfig:"SIGNUP_RATE_WINDOW" default:"1h"`

	// Token bucket applied per source address to all public routes.
	PublicRPS   float64 `envconfig:"PUBLIC_RATE_RPS" default:"10"`
	PublicBurst int     `envconfig:"PUBLIC_RATE_BURST" default:"20"`
}

// RetentionConfig tunes the retention enforcer.
type RetentionConfig struct {
	BatchSize     int           `envconfig:"RETENTION_BATCH_SIZE" default:"100" validate:"min=1,max=1000"`
	Concurrency   int           `envconfig:"RETENTION_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	TenantTimeout time.Duration `envconfig:"RETENTION_TENANT_TIMEOUT" default:"30s"`
	LockTTL       time.Duration `envconfig:"RETENTION_LOCK_TTL" default:"15m"`

	// RunTimeout bounds a whole run. It is independent of the HTTP request
	// timeout so one slow tenant cannot end the run for the rest.
	RunTimeout time.Duration `envconfig:"RETENTION_RUN_TIMEOUT" default:"10m"`
}

// Validate checks the timeout ordering the struct tags cannot express.
func (c RetentionConfig) Validate() error {
	if c.TenantTimeout <= 0 || c.RunTimeout <= 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "RETENTION_TENANT_TIMEOUT and RETENTION_RUN_TIMEOUT must be positive",
		}
	}
	if c.TenantTimeout >= c.RunTimeout {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "RETENTION_TENANT_TIMEOUT must be shorter than RETENTION_RUN_TIMEOUT",
		}
	}
	return nil
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
