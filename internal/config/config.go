// Package config loads daemon configuration from the environment.
// Every knob has a working default so a bare start brings the core up
// on the in-memory store with a log-only bus.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"nexum/pkg/money"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Bus backends.
const (
	BusMemory  = "memory"
	BusLogOnly = "log"
	BusKafka   = "kafka"
)

// Config is the daemon configuration.
type Config struct {
	// BaseCurrency denominates system bookkeeping accounts.
	BaseCurrency money.Currency

	// StorageBackend selects memory or postgres.
	StorageBackend string
	// PostgresDSN is required for the postgres backend.
	PostgresDSN string

	// BusBackend selects memory, log, or kafka.
	BusBackend string
	// KafkaBrokers is required for the kafka backend.
	KafkaBrokers []string
	KafkaGroupID string

	// FraudScorerURL enables remote fraud scoring when set.
	FraudScorerURL    string
	FraudScorerAPIKey string
	FraudTimeout      time.Duration

	// SanctionedCustomers seeds the compliance block list.
	SanctionedCustomers []string

	// LogLevel is a zap level string ("debug", "info", ...).
	LogLevel string
}

// FromEnv reads NEXUM_* environment variables over defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		BaseCurrency:   money.USD,
		StorageBackend: StorageMemory,
		BusBackend:     BusLogOnly,
		KafkaGroupID:   "nexum-core",
		FraudTimeout:   2 * time.Second,
		LogLevel:       "info",
	}

	if v := os.Getenv("NEXUM_BASE_CURRENCY"); v != "" {
		c, err := money.ParseCurrency(v)
		if err != nil {
			return Config{}, fmt.Errorf("NEXUM_BASE_CURRENCY: %w", err)
		}
		cfg.BaseCurrency = c
	}
	if v := os.Getenv("NEXUM_STORAGE"); v != "" {
		cfg.StorageBackend = v
	}
	cfg.PostgresDSN = os.Getenv("NEXUM_POSTGRES_DSN")
	if v := os.Getenv("NEXUM_BUS"); v != "" {
		cfg.BusBackend = v
	}
	if v := os.Getenv("NEXUM_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	if v := os.Getenv("NEXUM_KAFKA_GROUP_ID"); v != "" {
		cfg.KafkaGroupID = v
	}
	cfg.FraudScorerURL = os.Getenv("NEXUM_FRAUD_URL")
	cfg.FraudScorerAPIKey = os.Getenv("NEXUM_FRAUD_API_KEY")
	if v := os.Getenv("NEXUM_FRAUD_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("NEXUM_FRAUD_TIMEOUT_MS: invalid value %q", v)
		}
		cfg.FraudTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("NEXUM_SANCTIONED_CUSTOMERS"); v != "" {
		cfg.SanctionedCustomers = splitCSV(v)
	}
	if v := os.Getenv("NEXUM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres storage requires NEXUM_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.BusBackend {
	case BusMemory, BusLogOnly:
	case BusKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka bus requires NEXUM_KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown bus backend %q", c.BusBackend)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
