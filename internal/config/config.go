package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings loaded from env vars. Provider credentials
// carry no in-code defaults; an adapter whose credentials are absent is left
// unregistered rather than misconfigured.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string
	Environment string
	LogLevel    string
	Version     string

	JWTSecret  string
	CronSecret string
	SentryDSN  string

	APNS        APNSConfig
	FCM         FCMConfig
	VAPID       VAPIDConfig
	Email       EmailConfig
	Translation TranslationConfig
	Alerting    AlertingConfig
}

// APNSConfig carries the Apple push credentials.
type APNSConfig struct {
	KeyID       string
	TeamID      string
	BundleID    string
	PrivateKey  string // PKCS8 PEM
	Environment string // production | sandbox
}

// Configured reports whether the adapter has everything it needs to run.
func (c APNSConfig) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && c.PrivateKey != ""
}

// FCMConfig carries the Firebase service-account credentials.
type FCMConfig struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
}

func (c FCMConfig) Configured() bool {
	return c.ProjectID != "" && c.ClientEmail != "" && c.PrivateKey != ""
}

// VAPIDConfig carries the WebPush signing key pair.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

func (c VAPIDConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// EmailConfig carries credentials for the four email providers plus the
// shared sender identity.
type EmailConfig struct {
	From string

	ResendAPIKey        string
	SendGridAPIKey      string
	PostmarkServerToken string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Advisory monthly send ceilings per provider; zero disables the check.
	MonthlyQuota map[string]int64
}

// TranslationConfig carries the five-tier translation stack credentials and
// the advisory monthly character limits.
type TranslationConfig struct {
	LLMURL    string
	LLMAPIKey string
	LLMModel  string

	DeepLAPIKey           string
	GoogleAPIKey          string
	AzureTranslatorKey    string
	AzureTranslatorRegion string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	MonthlyCharLimit map[string]int64
}

// AlertingConfig carries the destinations for operational alerts. Any sink
// left blank is simply not registered.
type AlertingConfig struct {
	WebhookURL       string
	SlackWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
}

// Configured reports whether at least one alert sink is set up.
func (c AlertingConfig) Configured() bool {
	return c.WebhookURL != "" || c.SlackWebhookURL != "" ||
		(c.TelegramBotToken != "" && c.TelegramChatID != "")
}

// Load reads configuration from the environment.
func Load() Config {
	awsRegion := envOr("AWS_REGION", "us-east-1")
	awsKey := os.Getenv("AWS_ACCESS_KEY_ID")
	awsSecret := os.Getenv("AWS_SECRET_ACCESS_KEY")

	return Config{
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		DatabaseURL: envRequired("DATABASE_URL"),
		RedisURL:    envOr("REDIS_URL", "redis://localhost:6379/0"),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		Version:     envOr("SERVICE_VERSION", "dev"),

		JWTSecret:  envRequired("JWT_SECRET"),
		CronSecret: envRequired("CRON_SECRET"),
		SentryDSN:  os.Getenv("SENTRY_DSN"),

		APNS: APNSConfig{
			KeyID:       os.Getenv("APNS_KEY_ID"),
			TeamID:      os.Getenv("APNS_TEAM_ID"),
			BundleID:    os.Getenv("APNS_BUNDLE_ID"),
			PrivateKey:  os.Getenv("APNS_PRIVATE_KEY"),
			Environment: envOr("APNS_ENVIRONMENT", "production"),
		},
		FCM: FCMConfig{
			ProjectID:   os.Getenv("FCM_PROJECT_ID"),
			ClientEmail: os.Getenv("FCM_CLIENT_EMAIL"),
			PrivateKey:  os.Getenv("FCM_PRIVATE_KEY"),
		},
		VAPID: VAPIDConfig{
			PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subject:    envOr("VAPID_SUBJECT", "mailto:ops@herald.dev"),
		},
		Email: EmailConfig{
			From:                envOr("EMAIL_FROM", "Herald <no-reply@herald.dev>"),
			ResendAPIKey:        os.Getenv("RESEND_API_KEY"),
			SendGridAPIKey:      os.Getenv("SENDGRID_API_KEY"),
			PostmarkServerToken: os.Getenv("POSTMARK_SERVER_TOKEN"),
			AWSRegion:           awsRegion,
			AWSAccessKeyID:      awsKey,
			AWSSecretAccessKey:  awsSecret,
			MonthlyQuota: map[string]int64{
				"resend":   envInt64("RESEND_MONTHLY_QUOTA", 100_000),
				"sendgrid": envInt64("SENDGRID_MONTHLY_QUOTA", 100_000),
				"postmark": envInt64("POSTMARK_MONTHLY_QUOTA", 100_000),
				"ses":      envInt64("SES_MONTHLY_QUOTA", 0),
			},
		},
		Translation: TranslationConfig{
			LLMURL:                os.Getenv("TRANSLATE_LLM_URL"),
			LLMAPIKey:             os.Getenv("TRANSLATE_LLM_API_KEY"),
			LLMModel:              envOr("TRANSLATE_LLM_MODEL", "qwen2.5-7b-instruct"),
			DeepLAPIKey:           os.Getenv("DEEPL_API_KEY"),
			GoogleAPIKey:          os.Getenv("GOOGLE_TRANSLATE_API_KEY"),
			AzureTranslatorKey:    os.Getenv("AZURE_TRANSLATOR_KEY"),
			AzureTranslatorRegion: envOr("AZURE_TRANSLATOR_REGION", "global"),
			AWSRegion:             awsRegion,
			AWSAccessKeyID:        awsKey,
			AWSSecretAccessKey:    awsSecret,
			MonthlyCharLimit: map[string]int64{
				"llm":       envInt64("LLM_MONTHLY_CHAR_LIMIT", 0),
				"deepl":     envInt64("DEEPL_MONTHLY_CHAR_LIMIT", 500_000),
				"google":    envInt64("GOOGLE_MONTHLY_CHAR_LIMIT", 2_000_000),
				"microsoft": envInt64("AZURE_MONTHLY_CHAR_LIMIT", 2_000_000),
				"amazon":    envInt64("AMAZON_MONTHLY_CHAR_LIMIT", 2_000_000),
			},
		},
		Alerting: AlertingConfig{
			WebhookURL:       os.Getenv("ALERT_WEBHOOK_URL"),
			SlackWebhookURL:  os.Getenv("ALERT_SLACK_WEBHOOK_URL"),
			TelegramBotToken: os.Getenv("ALERT_TELEGRAM_BOT_TOKEN"),
			TelegramChatID:   os.Getenv("ALERT_TELEGRAM_CHAT_ID"),
		},
	}
}

// Validate checks that all required configuration is present and valid.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// WebhookSecret returns the signing secret for a delivery-status webhook,
// e.g. WEBHOOK_SECRET_RESEND for provider "resend".
func WebhookSecret(provider string) string {
	return os.Getenv("WEBHOOK_SECRET_" + strings.ToUpper(provider))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		// In development, allow empty but warn
		fmt.Printf("WARNING: %s is not set. This is required in production.\n", key)
	}
	return value
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

// EnvInt reads an integer env var with a fallback; shared by package-local
// tunable loaders.
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// EnvDuration reads a seconds-valued env var with a fallback.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
