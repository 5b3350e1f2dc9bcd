package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (PERKS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"HTTP server listen address"`
	DatabaseURL string `usage:"Optional PostgreSQL URL enabling the issuance lock (PERKS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	Catalog   CatalogConfig
	Secrets   SecretsConfig
	Retention RetentionConfig
	Retry     RetryConfig
	Email     EmailConfig

	ReportWebhookURL string `usage:"Incoming-webhook URL for maintenance run summaries" flag:"report-webhook-url"`

	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// CatalogConfig points at the storefront catalog's admin API.
type CatalogConfig struct {
	URL         string        `usage:"Catalog admin API base URL" flag:"catalog-url"`
	AccessToken string        `usage:"Catalog admin API access token" flag:"catalog-token"`
	PriceRuleID int64         `usage:"Price rule that welcome codes attach to" flag:"price-rule-id"`
	Timeout     time.Duration `default:"30s" usage:"Per-request catalog timeout" flag:"catalog-timeout"`
}

// SecretsConfig holds the shared secrets gating the trigger endpoints.
type SecretsConfig struct {
	Webhook string `usage:"Bearer secret for the storefront webhook endpoints" flag:"webhook-secret"`
	Cron    string `usage:"Bearer secret for the scheduled maintenance endpoint" flag:"cron-secret"`
}

// RetentionConfig controls which unused codes the maintenance run deletes.
type RetentionConfig struct {
	MaxAge time.Duration `default:"2160h" usage:"Unused codes older than this are deleted (default 90 days)" flag:"retention-max-age"`
}

// RetryConfig controls the rate-limit retry policy for catalog calls made
// during maintenance runs.
type RetryConfig struct {
	MaxRetries   uint64        `default:"3"  usage:"Retries after a rate-limited catalog call" flag:"retry-max"`
	InitialDelay time.Duration `default:"1s" usage:"First retry delay, doubled on each subsequent retry" flag:"retry-delay"`
}

// EmailConfig holds the transactional email sender settings.
type EmailConfig struct {
	ResendAPIKey string `usage:"Resend API key (PERKS_EMAIL_RESEND_API_KEY)" flag:"resend-api-key"`
	FromEmail    string `usage:"Sender email address" flag:"from-email"`
	FromName     string `default:"The Shop" usage:"Sender display name" flag:"from-name"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PERKS",
		Files:     []string{"config.yaml", "/etc/perks/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	switch {
	case cfg.Catalog.URL == "":
		return nil, errors.New("catalog URL is required: set PERKS_CATALOG_URL")
	case cfg.Catalog.AccessToken == "":
		return nil, errors.New("catalog access token is required: set PERKS_CATALOG_ACCESSTOKEN")
	case cfg.Catalog.PriceRuleID == 0:
		return nil, errors.New("price rule id is required: set PERKS_CATALOG_PRICERULEID")
	case cfg.Secrets.Webhook == "":
		return nil, errors.New("webhook secret is required: set PERKS_SECRETS_WEBHOOK")
	case cfg.Secrets.Cron == "":
		return nil, errors.New("cron secret is required: set PERKS_SECRETS_CRON")
	case cfg.Email.ResendAPIKey == "":
		return nil, errors.New("resend API key is required: set PERKS_EMAIL_RESENDAPIKEY")
	case cfg.Email.FromEmail == "":
		return nil, errors.New("sender email is required: set PERKS_EMAIL_FROMEMAIL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PERKS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
