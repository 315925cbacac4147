// Package config loads service configuration from the environment. An
// optional .env file in the working directory is applied first and never
// overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Secret backends
const (
	SecretsEnv   = "env"
	SecretsLocal = "local"
	SecretsVault = "vault"
	SecretsAWS   = "aws"
)

// Document backends
const (
	DocumentsLocal = "local"
	DocumentsS3    = "s3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Logger        LoggerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Gateways      GatewaysConfig
	Secrets       SecretsConfig
	Notifications NotificationConfig
	Storage       StorageConfig
	Billing       BillingConfig
	Cron          CronConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	MetricsPort     int           `env:"METRICS_PORT" envDefault:"9090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsProduction reports whether the service runs in production
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"` // debug, info, warn, error
}

// DatabaseConfig holds storage configuration
type DatabaseConfig struct {
	Driver          string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	SeedPlans       bool          `env:"SEED_PLANS" envDefault:"true"`
}

// RedisConfig holds the distributed lock backend. Without a URL locks are
// process-local.
type RedisConfig struct {
	URL        string        `env:"REDIS_URL"`
	LockTTL    time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockPrefix string        `env:"LOCK_PREFIX" envDefault:"subscription-service:lock:"`
}

// GatewaysConfig holds per-provider credentials and the shared breaker policy
type GatewaysConfig struct {
	Stripe   StripeConfig   `envPrefix:"STRIPE_"`
	Razorpay RazorpayConfig `envPrefix:"RAZORPAY_"`
	PayPal   PayPalConfig   `envPrefix:"PAYPAL_"`

	BreakerMaxFailures uint32        `env:"GATEWAY_BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerTimeout     time.Duration `env:"GATEWAY_BREAKER_TIMEOUT" envDefault:"30s"`
}

// StripeConfig holds Stripe credentials
type StripeConfig struct {
	APIKey        string `env:"API_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	BackendURL    string `env:"BACKEND_URL"`
}

// Enabled reports whether Stripe is configured
func (c StripeConfig) Enabled() bool { return c.APIKey != "" }

// RazorpayConfig holds Razorpay credentials
type RazorpayConfig struct {
	KeyID         string `env:"KEY_ID"`
	KeySecret     string `env:"KEY_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	BaseURL       string `env:"BASE_URL" envDefault:"https://api.razorpay.com"`
}

// Enabled reports whether Razorpay is configured
func (c RazorpayConfig) Enabled() bool { return c.KeyID != "" }

// PayPalConfig holds PayPal REST credentials
type PayPalConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`
	BaseURL      string `env:"BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	BrandName    string `env:"BRAND_NAME"`
	ReturnURL    string `env:"RETURN_URL"`
	CancelURL    string `env:"CANCEL_URL"`
}

// Enabled reports whether PayPal is configured
func (c PayPalConfig) Enabled() bool { return c.ClientID != "" }

// SecretsConfig selects where credentials come from. With the env backend
// the gateway and notification values above are used as loaded; otherwise
// every non-empty *Path is read from the backend and overrides them.
type SecretsConfig struct {
	Backend  string        `env:"SECRETS_BACKEND" envDefault:"env"`
	CacheTTL time.Duration `env:"SECRETS_CACHE_TTL" envDefault:"5m"`

	LocalPath string `env:"SECRETS_LOCAL_PATH" envDefault:"./secrets"`

	VaultAddress    string `env:"VAULT_ADDR"`
	VaultAuthMethod string `env:"VAULT_AUTH_METHOD" envDefault:"token"`
	VaultToken      string `env:"VAULT_TOKEN"`
	VaultRoleID     string `env:"VAULT_ROLE_ID"`
	VaultSecretID   string `env:"VAULT_SECRET_ID"`
	VaultNamespace  string `env:"VAULT_NAMESPACE"`
	VaultMountPath  string `env:"VAULT_MOUNT_PATH" envDefault:"secret"`
	VaultKVVersion  string `env:"VAULT_KV_VERSION" envDefault:"v2"`

	AWSRegion   string `env:"AWS_REGION"`
	AWSProfile  string `env:"AWS_PROFILE"`
	AWSEndpoint string `env:"SECRETS_AWS_ENDPOINT"`

	StripeAPIKeyPath          string `env:"SECRET_STRIPE_API_KEY"`
	StripeWebhookSecretPath   string `env:"SECRET_STRIPE_WEBHOOK_SECRET"`
	RazorpayKeySecretPath     string `env:"SECRET_RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecretPath string `env:"SECRET_RAZORPAY_WEBHOOK_SECRET"`
	PayPalClientSecretPath    string `env:"SECRET_PAYPAL_CLIENT_SECRET"`
	PostmarkServerTokenPath   string `env:"SECRET_POSTMARK_SERVER_TOKEN"`
	WebhookSigningSecretPath  string `env:"SECRET_NOTIFY_WEBHOOK_SECRET"`
	CronSecretPath            string `env:"SECRET_CRON"`
}

// NotificationConfig holds the e-mail and outbound webhook sinks
type NotificationConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkBaseURL      string `env:"POSTMARK_BASE_URL"`
	SenderEmail          string `env:"NOTIFY_SENDER_EMAIL"`
	SupportEmail         string `env:"NOTIFY_SUPPORT_EMAIL"`
	AppBaseURL           string `env:"APP_BASE_URL"`

	WebhookURL         string `env:"NOTIFY_WEBHOOK_URL"`
	WebhookSecret      string `env:"NOTIFY_WEBHOOK_SECRET"`
	WebhookMaxAttempts int    `env:"NOTIFY_WEBHOOK_MAX_ATTEMPTS" envDefault:"4"`
}

// EmailEnabled reports whether Postmark delivery is configured
func (c NotificationConfig) EmailEnabled() bool { return c.PostmarkServerToken != "" }

// WebhookEnabled reports whether outbound webhooks are configured
func (c NotificationConfig) WebhookEnabled() bool { return c.WebhookURL != "" }

// StorageConfig holds the invoice document store
type StorageConfig struct {
	Backend       string `env:"DOCUMENT_BACKEND" envDefault:"local"`
	LocalPath     string `env:"DOCUMENT_LOCAL_PATH" envDefault:"./data/documents"`
	PublicBaseURL string `env:"DOCUMENT_BASE_URL"`
	IssuerName    string `env:"INVOICE_ISSUER_NAME" envDefault:"Subscription Service"`

	S3Bucket         string `env:"S3_BUCKET"`
	S3Region         string `env:"S3_REGION"`
	S3Prefix         string `env:"S3_PREFIX"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE"`
}

// BillingConfig holds lifecycle policy
type BillingConfig struct {
	Currency           string          `env:"BILLING_CURRENCY" envDefault:"USD"`
	TaxRate            decimal.Decimal `env:"TAX_RATE" envDefault:"0"`
	Coupons            []string        `env:"COUPONS"` // CODE:percentage:10 or CODE:fixed:5
	ReminderThresholds []int           `env:"REMINDER_THRESHOLDS" envDefault:"7,3,1"`
	MaxRenewalAttempts int             `env:"MAX_RENEWAL_ATTEMPTS" envDefault:"3"`
	GracePeriod        time.Duration   `env:"GRACE_PERIOD" envDefault:"168h"`
	RenewalLookahead   time.Duration   `env:"RENEWAL_LOOKAHEAD" envDefault:"24h"`
	MinRetrySpacing    time.Duration   `env:"MIN_RETRY_SPACING" envDefault:"23h"`
	SchedulerEnabled   bool            `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerInterval  time.Duration   `env:"SCHEDULER_INTERVAL" envDefault:"24h"`
	SchedulerOnStart   bool            `env:"SCHEDULER_RUN_ON_START" envDefault:"false"`
	BatchSize          int             `env:"SCHEDULER_BATCH_SIZE" envDefault:"500"`
	Concurrency        int             `env:"SCHEDULER_CONCURRENCY" envDefault:"4"`
}

// CronConfig protects the job trigger endpoints; empty disables them
type CronConfig struct {
	Secret string `env:"CRON_SECRET"`
}

// RateLimitConfig holds per-client request budgets
type RateLimitConfig struct {
	APIRequestsPerSecond     float64 `env:"API_RATE_LIMIT_RPS" envDefault:"20"`
	APIBurst                 int     `env:"API_RATE_LIMIT_BURST" envDefault:"40"`
	WebhookRequestsPerSecond float64 `env:"WEBHOOK_RATE_LIMIT_RPS" envDefault:"50"`
	WebhookBurst             int     `env:"WEBHOOK_RATE_LIMIT_BURST" envDefault:"100"`
}

// Load applies an optional .env file and parses the environment. Call
// Validate once secrets have been resolved.
func Load() (*Config, error) {
	// the .env file is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks required combinations and reports every problem found
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, errors.New("DB_MIN_CONNS exceeds DB_MAX_CONNS"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver))
	}

	g := c.Gateways
	if !g.Stripe.Enabled() && !g.Razorpay.Enabled() && !g.PayPal.Enabled() {
		errs = append(errs, errors.New("at least one payment gateway must be configured"))
	}
	if g.Stripe.Enabled() && g.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when Stripe is enabled"))
	}
	if g.Razorpay.Enabled() {
		if g.Razorpay.KeySecret == "" {
			errs = append(errs, errors.New("RAZORPAY_KEY_SECRET is required when Razorpay is enabled"))
		}
		if g.Razorpay.WebhookSecret == "" {
			errs = append(errs, errors.New("RAZORPAY_WEBHOOK_SECRET is required when Razorpay is enabled"))
		}
	}
	if g.PayPal.Enabled() {
		if g.PayPal.ClientSecret == "" {
			errs = append(errs, errors.New("PAYPAL_CLIENT_SECRET is required when PayPal is enabled"))
		}
		if g.PayPal.WebhookID == "" {
			errs = append(errs, errors.New("PAYPAL_WEBHOOK_ID is required when PayPal is enabled"))
		}
	}

	switch c.Secrets.Backend {
	case SecretsEnv, SecretsLocal:
	case SecretsVault:
		if c.Secrets.VaultAddress == "" {
			errs = append(errs, errors.New("VAULT_ADDR is required for the vault secrets backend"))
		}
	case SecretsAWS:
		if c.Secrets.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the aws secrets backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("SECRETS_BACKEND must be env, local, vault or aws, got %q", c.Secrets.Backend))
	}

	if c.Notifications.EmailEnabled() && c.Notifications.SenderEmail == "" {
		errs = append(errs, errors.New("NOTIFY_SENDER_EMAIL is required when Postmark is enabled"))
	}
	if c.Notifications.WebhookEnabled() && c.Notifications.WebhookSecret == "" {
		errs = append(errs, errors.New("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set"))
	}

	switch c.Storage.Backend {
	case DocumentsLocal:
	case DocumentsS3:
		if c.Storage.S3Bucket == "" || c.Storage.S3Region == "" {
			errs = append(errs, errors.New("S3_BUCKET and S3_REGION are required for the s3 document backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("DOCUMENT_BACKEND must be %q or %q, got %q", DocumentsLocal, DocumentsS3, c.Storage.Backend))
	}

	b := c.Billing
	if len(b.Currency) != 3 {
		errs = append(errs, fmt.Errorf("BILLING_CURRENCY must be an ISO 4217 code, got %q", b.Currency))
	}
	if b.TaxRate.IsNegative() || b.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("TAX_RATE must be in [0, 1), got %s", b.TaxRate))
	}
	if b.MaxRenewalAttempts < 1 {
		errs = append(errs, errors.New("MAX_RENEWAL_ATTEMPTS must be at least 1"))
	}
	for _, d := range b.ReminderThresholds {
		if d < 1 {
			errs = append(errs, fmt.Errorf("REMINDER_THRESHOLDS must be positive day counts, got %d", d))
			break
		}
	}
	if b.SchedulerEnabled && b.SchedulerInterval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}
