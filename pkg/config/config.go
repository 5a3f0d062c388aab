package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	DatabaseURL string   `env:"DATABASE_URL"`
	JWTSecret   string   `env:"JWT_SECRET"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string   `env:"LOG_FORMAT" envDefault:"text"`

	// Base64 of the 32 byte key used for mailbox credentials at rest.
	EncryptionKey string `env:"MAILBOX_ENCRYPTION_KEY"`

	Google GoogleConfig
	Sync   SyncConfig
}

type GoogleConfig struct {
	ClientID        string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret    string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURI     string `env:"GOOGLE_REDIRECT_URI" envDefault:"http://localhost:8080/api/mailboxes/gmail/callback"`
	ProjectID       string `env:"GOOGLE_PROJECT_ID"`
	PubSubTopic     string `env:"GOOGLE_PUBSUB_TOPIC"`
	CredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`

	PageSize          int64   `env:"GMAIL_PAGE_SIZE" envDefault:"100"`
	MaxPages          int     `env:"GMAIL_MAX_PAGES" envDefault:"1"`
	RequestsPerSecond float64 `env:"GMAIL_REQUESTS_PER_SECOND" envDefault:"10"`
}

type SyncConfig struct {
	DefaultBackfillDays int           `env:"DEFAULT_BACKFILL_DAYS" envDefault:"30"`
	VerifyOnConnect     bool          `env:"VERIFY_ON_CONNECT" envDefault:"true"`
	IMAPDialTimeout     time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"15s"`
	SMTPDialTimeout     time.Duration `env:"SMTP_DIAL_TIMEOUT" envDefault:"15s"`
	// Zero disables the built-in scheduler; periodic sync is then left to cron or push.
	Interval      time.Duration `env:"SYNC_INTERVAL" envDefault:"0s"`
	StaleRunAfter time.Duration `env:"STALE_RUN_AFTER" envDefault:"1h"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every database-backed command needs.
// OAuth settings are checked when a Gmail flow first uses them.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("MAILBOX_ENCRYPTION_KEY is required"))
	}
	if c.Sync.DefaultBackfillDays <= 0 {
		errs = append(errs, errors.New("DEFAULT_BACKFILL_DAYS must be positive"))
	}
	if c.Google.PageSize <= 0 || c.Google.PageSize > 500 {
		errs = append(errs, errors.New("GMAIL_PAGE_SIZE must be between 1 and 500"))
	}
	if c.Google.MaxPages <= 0 {
		errs = append(errs, errors.New("GMAIL_MAX_PAGES must be positive"))
	}
	return errors.Join(errs...)
}

// PushEnabled reports whether Gmail push notifications are configured.
func (c *Config) PushEnabled() bool {
	return c.Google.ProjectID != "" && c.Google.PubSubTopic != ""
}
