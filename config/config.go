package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	// Hosted database holding leads, contacts and whatsapp_messages.
	DatabaseType string `envconfig:"DB_TYPE" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	// Local audit database (resolution issues, send attempts).
	AuditDatabasePath string `envconfig:"AUDIT_DB_PATH" default:"inbox_audit.db"`

	// Outbound WhatsApp API.
	WhatsAppBaseURL string        `envconfig:"WHATSAPP_API_URL" default:"http://localhost:3001"`
	WhatsAppToken   string        `envconfig:"WHATSAPP_API_TOKEN"`
	WhatsAppTimeout time.Duration `envconfig:"WHATSAPP_API_TIMEOUT" default:"15s"`
	WhatsAppRetries int           `envconfig:"WHATSAPP_API_RETRIES" default:"2"`

	// Phone normalization.
	CountryPrefix string `envconfig:"PHONE_COUNTRY_PREFIX" default:"972"`

	// Cache backend: "memory" or "redis".
	CacheBackend   string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheFreshness time.Duration `envconfig:"CACHE_FRESHNESS" default:"5m"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`

	// Polling.
	ListPollInterval   time.Duration `envconfig:"POLL_LIST_INTERVAL" default:"10s"`
	OpenPollInterval   time.Duration `envconfig:"POLL_OPEN_INTERVAL" default:"5s"`
	PollSettleDelay    time.Duration `envconfig:"POLL_SETTLE_DELAY" default:"2s"`
	PollFetchTimeout   time.Duration `envconfig:"POLL_FETCH_TIMEOUT" default:"8s"`
	WindowTickInterval time.Duration `envconfig:"WINDOW_TICK_INTERVAL" default:"60s"`

	// Events.
	RabbitMQURL         string `envconfig:"RABBITMQ_URL"`
	RabbitMQQueuePrefix string `envconfig:"RABBITMQ_QUEUE_PREFIX" default:"crm_inbox"`

	// Media storage. S3 is used only when a bucket is configured.
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3PathStyle bool   `envconfig:"S3_PATH_STYLE" default:"false"`
	S3PublicURL string `envconfig:"S3_PUBLIC_URL"`
}

// Load loads configuration from environment variables.
// It attempts to load a .env file if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("No .env file found or error loading it, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("dbType", cfg.DatabaseType).
		Str("cacheBackend", cfg.CacheBackend).
		Bool("rabbitmq", cfg.RabbitMQURL != "").
		Bool("s3", cfg.S3Enabled()).
		Msg("Configuration loaded")
	return &cfg, nil
}

// Validate checks the combination of values that envconfig cannot express.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.DatabaseType {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q, expected postgres or sqlite", c.DatabaseType)
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q, expected memory or redis", c.CacheBackend)
	}
	if c.CacheFreshness <= 0 {
		return fmt.Errorf("CACHE_FRESHNESS must be positive")
	}
	if c.ListPollInterval <= 0 || c.OpenPollInterval <= 0 || c.WindowTickInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if strings.Trim(c.CountryPrefix, "0123456789") != "" {
		return fmt.Errorf("PHONE_COUNTRY_PREFIX must contain digits only, got %q", c.CountryPrefix)
	}
	return nil
}

// S3Enabled reports whether media should be uploaded to S3.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}
