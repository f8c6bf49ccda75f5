package config

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config holds the service configuration, loaded from .env, environment
// variables and an optional config.yaml.
type Config struct {
	Env         string `env:"APP_ENV" yaml:"app_env" default:"development" usage:"production enables JSON logs and gateway-verified confirmations"`
	Port        string `env:"PORT" yaml:"port" default:"8088"`
	FrontendURL string `env:"FRONTEND_URL" yaml:"frontend_url" default:"http://localhost:3000"`
	PaymentMode string `env:"PAYMENT_MODE" yaml:"payment_mode" usage:"manual accepts confirmations without a gateway reference"`

	MongoURI string `env:"MONGO_URI" yaml:"mongo_uri"`
	MongoDB  string `env:"MONGO_DB" yaml:"mongo_db" default:"lms"`
	RedisURL string `env:"REDIS_URL" yaml:"redis_url"`

	PostgresHost     string `env:"POSTGRES_HOST" yaml:"postgres_host" usage:"enables the payment ledger when set"`
	PostgresPort     string `env:"POSTGRES_PORT" yaml:"postgres_port" default:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" yaml:"postgres_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" yaml:"postgres_password"`
	PostgresDB       string `env:"POSTGRES_DB" yaml:"postgres_db" default:"payments"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" yaml:"postgres_sslmode" default:"disable"`
	PostgresTimeZone string `env:"POSTGRES_TIMEZONE" yaml:"postgres_timezone" default:"UTC"`

	JWTSecret string `env:"JWT_SECRET" yaml:"jwt_secret"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY" yaml:"stripe_secret_key"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET" yaml:"stripe_webhook_secret"`
	StripeSecretName    string        `env:"STRIPE_SECRET_NAME" yaml:"stripe_secret_name" usage:"Secrets Manager entry holding the Stripe keys"`
	StripeTimeout       time.Duration `env:"STRIPE_TIMEOUT" yaml:"stripe_timeout" default:"30s"`

	ExchangeRateURL     string        `env:"EXCHANGE_RATE_URL" yaml:"exchange_rate_url" default:"https://api.exchangerate.host"`
	ExchangeRateTimeout time.Duration `env:"EXCHANGE_RATE_TIMEOUT" yaml:"exchange_rate_timeout" default:"5s"`
	ExchangeRateTTL     time.Duration `env:"EXCHANGE_RATE_TTL" yaml:"exchange_rate_ttl" default:"1h"`

	AWSRegion      string `env:"AWS_REGION" yaml:"aws_region" default:"eu-west-2"`
	AWSEndpoint    string `env:"AWS_ENDPOINT_URL" yaml:"aws_endpoint_url" usage:"LocalStack endpoint"`
	EventsTopicARN string `env:"EVENTS_SNS_TOPIC_ARN" yaml:"events_sns_topic_arn"`
	ReceiptBucket  string `env:"RECEIPT_BUCKET" yaml:"receipt_bucket"`
	AssetsURL      string `env:"ASSETS_PUBLIC_URL" yaml:"assets_public_url" usage:"public base URL for archived receipts"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" yaml:"metrics_enabled" default:"false"`

	SMTPHost     string `env:"SMTP_HOST" yaml:"smtp_host"`
	SMTPPort     string `env:"SMTP_PORT" yaml:"smtp_port" default:"587"`
	SMTPUsername string `env:"SMTP_USERNAME" yaml:"smtp_username"`
	SMTPPassword string `env:"SMTP_PASSWORD" yaml:"smtp_password"`
	SMTPFrom     string `env:"SMTP_FROM" yaml:"smtp_from"`

	CORSOrigins        []string      `env:"CORS_ORIGINS" yaml:"cors_origins" default:"http://localhost:3000"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" yaml:"rate_limit_per_minute" default:"120"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" yaml:"rate_limit_burst" default:"30"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" yaml:"request_timeout" default:"30s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"15s"`
}

// SecretSource reads a JSON secret as a flat string map.
type SecretSource interface {
	GetSecretJSON(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration without validating it. Call ApplySecrets
// then Validate before use.
func LoadConfig(files ...string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:          true,
		AllowUnknownFields: true,
		AllowUnknownEnvs:   true,
		Files:              lo.Ternary(len(files) > 0, files, []string{"config.yaml"}),
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.FrontendURL = strings.TrimSuffix(cfg.FrontendURL, "/")
	return &cfg, nil
}

// ApplySecrets fills the Stripe keys from Secrets Manager when
// StripeSecretName is set. Values already present in the environment win.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) error {
	if c.StripeSecretName == "" {
		return nil
	}
	values, err := src.GetSecretJSON(ctx, c.StripeSecretName)
	if err != nil {
		return errors.Wrapf(err, "read secret %s", c.StripeSecretName)
	}
	c.StripeSecretKey = lo.CoalesceOrEmpty(c.StripeSecretKey, values["STRIPE_SECRET_KEY"])
	c.StripeWebhookSecret = lo.CoalesceOrEmpty(c.StripeWebhookSecret, values["STRIPE_WEBHOOK_SECRET"])
	return nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	required := map[string]string{
		"MONGO_URI":             c.MongoURI,
		"REDIS_URL":             c.RedisURL,
		"JWT_SECRET":            c.JWTSecret,
		"STRIPE_SECRET_KEY":     c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
	}
	missing := lo.Filter(lo.Keys(required), func(k string, _ int) bool { return strings.TrimSpace(required[k]) == "" })
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ManualPayments reports whether confirmations skip gateway verification.
func (c *Config) ManualPayments() bool {
	return strings.EqualFold(c.PaymentMode, "manual") || !c.IsProduction()
}

func (c *Config) LedgerEnabled() bool {
	return c.PostgresHost != ""
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}
