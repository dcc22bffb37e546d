// Package config centralises configuration parsing for the activity server and its workers.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by Validate when required settings are missing.
var ErrInvalid = errors.New("invalid configuration")

// Config captures runtime configuration values for the activity service.
type Config struct {
	Port           string `env:"PORT" envDefault:"3000"`
	BaseURL        string `env:"BASE_URL"`
	DescriptorPath string `env:"DESCRIPTOR_PATH" envDefault:"config/config.json"`

	TwilioSID       string        `env:"TWILIO_SID"`
	TwilioToken     string        `env:"TWILIO_TOKEN"`
	TwilioFrom      string        `env:"TWILIO_FROM"`
	MessagingSID    string        `env:"MSID"`
	StatusCallback  string        `env:"STATUS_CB"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	PostgresURL    string        `env:"POSTGRES_URL"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"10m"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	StatusTopic     string   `env:"STATUS_TOPIC" envDefault:"twilio_message_status"`
	InboundTopic    string   `env:"INBOUND_TOPIC" envDefault:"twilio_inbound_messages"`
	ConsumerGroupID string   `env:"CONSUMER_GROUP_ID" envDefault:"twilio-jb-activity-status"`

	DataStore DataStore `envPrefix:"SFMC_"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"25"`
	DLQPollInterval    time.Duration `env:"DLQ_POLL_INTERVAL" envDefault:"30s"` // Interval between DLQ polling iterations.
	DLQMaxRetries      int           `env:"DLQ_MAX_RETRIES" envDefault:"5"`     // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration `env:"DLQ_BASE_DELAY" envDefault:"1m"`     // Base delay used for exponential backoff.

	MetricsAddress string `env:"METRICS_ADDRESS" envDefault:":9195"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// DataStore holds the Marketing Cloud credentials used for status write-back.
type DataStore struct {
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	AccountID    string        `env:"ACCOUNT_ID"`
	AuthBaseURL  string        `env:"AUTH_BASE_URL"`
	RestBaseURL  string        `env:"REST_BASE_URL"`
	ExtensionKey string        `env:"DE_KEY"`
	PrimaryKey   string        `env:"DE_PRIMARY_KEY" envDefault:"MemberId"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether status write-back was configured.
func (d DataStore) Enabled() bool {
	return strings.TrimSpace(d.ClientID) != ""
}

// Load reads an optional .env file and the process environment into Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	return cfg, nil
}

// HTTPAddress is the listen address derived from PORT.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// KafkaEnabled reports whether callback events should be published.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate reports every required setting that is missing. The provider credentials are
// always required; the data store block pulls in its own requirements once enabled.
func (c Config) Validate() error {
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("TWILIO_SID", c.TwilioSID)
	require("TWILIO_TOKEN", c.TwilioToken)

	if c.DataStore.Enabled() {
		require("SFMC_CLIENT_SECRET", c.DataStore.ClientSecret)
		require("SFMC_AUTH_BASE_URL", c.DataStore.AuthBaseURL)
		require("SFMC_REST_BASE_URL", c.DataStore.RestBaseURL)
		require("SFMC_DE_KEY", c.DataStore.ExtensionKey)
		require("POSTGRES_URL", c.PostgresURL)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required environment variables (%s)", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateWorker checks the settings needed by the background workers, which never talk
// to the provider and therefore only need the database.
func (c Config) ValidateWorker() error {
	if strings.TrimSpace(c.PostgresURL) == "" {
		return fmt.Errorf("%w: missing required environment variables (POSTGRES_URL)", ErrInvalid)
	}
	return nil
}

func splitAndTrim(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
