// Package config builds process configuration from environment variables so
// main stays lean. Development defaults are provided for everything except
// credentials.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all process-level configuration.
type Config struct {
	Addr          string
	JWTSigningKey string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	Packaging PackagingConfig
	TariffAPI TariffAPIConfig
	Storage   StorageConfig
	Notify    NotifyConfig
}

// PostgresConfig holds the relational datastore settings. An empty URL means
// the service runs on in-memory stores (dev and unit-test mode).
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds settings for the coordination Redis instance.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds broker settings for the notification producer. Empty
// brokers disable Kafka and notifications are logged only.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// PackagingConfig controls envelope numbering and queue behaviour.
type PackagingConfig struct {
	// EnvelopeSeed is the first counter value used for the first envelope of
	// a year. Defaults to 1.
	EnvelopeSeed int
	// NotificationsEnabled gates all packaging notifications.
	NotificationsEnabled bool
	// EnvelopeMaxSize bounds the rendered envelope size in bytes before the
	// serializer splits output.
	EnvelopeMaxSize int
	// PublishInterval is the period of the Crown Dependencies publish task.
	PublishInterval time.Duration
}

// TariffAPIConfig holds endpoints and credentials for the external tariff
// API. Staging and production carry separate credentials.
type TariffAPIConfig struct {
	StagingURL    string
	StagingKey    string
	ProductionURL string
	ProductionKey string
	Timeout       time.Duration
}

// StorageConfig addresses the envelope blob store.
type StorageConfig struct {
	// Directory is the per-environment prefix under which envelope files are
	// written.
	Directory string
}

// NotifyConfig carries notification template identifiers.
type NotifyConfig struct {
	ReadyForProcessingTemplateID  string
	ProcessingSucceededTemplateID string
	ProcessingFailedTemplateID    string
	PublishingSucceededTemplateID string
	PublishingFailedTemplateID    string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envString("TARIFF_ADDR", ":8080"),
		JWTSigningKey: envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_NOTIFICATIONS_TOPIC", "tariff.notifications"),
		},
		Packaging: PackagingConfig{
			EnvelopeSeed:         envInt("PACKAGING_SEED_ENVELOPE_ID", 1),
			NotificationsEnabled: envString("ENABLE_PACKAGING_NOTIFICATIONS", "true") == "true",
			EnvelopeMaxSize:      envInt("ENVELOPE_MAX_SIZE", 40*1024*1024),
			PublishInterval:      envDuration("CROWN_DEPENDENCIES_PUBLISH_INTERVAL", time.Minute),
		},
		TariffAPI: TariffAPIConfig{
			StagingURL:    os.Getenv("TARIFF_API_STAGING_URL"),
			StagingKey:    os.Getenv("TARIFF_API_STAGING_KEY"),
			ProductionURL: os.Getenv("TARIFF_API_PRODUCTION_URL"),
			ProductionKey: os.Getenv("TARIFF_API_PRODUCTION_KEY"),
			Timeout:       envDuration("TARIFF_API_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Directory: envString("ENVELOPE_STORAGE_DIRECTORY", "/var/lib/tariffpub/envelopes"),
		},
		Notify: NotifyConfig{
			ReadyForProcessingTemplateID:  envString("READY_FOR_CDS_TEMPLATE_ID", "ready-for-cds"),
			ProcessingSucceededTemplateID: envString("CDS_ACCEPTED_TEMPLATE_ID", "cds-accepted"),
			ProcessingFailedTemplateID:    envString("CDS_REJECTED_TEMPLATE_ID", "cds-rejected"),
			PublishingSucceededTemplateID: envString("API_PUBLISH_SUCCESS_TEMPLATE_ID", "api-publish-success"),
			PublishingFailedTemplateID:    envString("API_PUBLISH_FAILED_TEMPLATE_ID", "api-publish-failed"),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
