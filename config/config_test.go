package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.StoreDriver)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"USD", "EUR", "CAD"}, cfg.Business.AllowedCurrencies)
	assert.Equal(t, "CAD", cfg.Business.DefaultCurrency)
	assert.Equal(t, 3, cfg.Business.CheckoutMaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Business.RetryBackoff)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.Observ.TraceEndpoint())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ALLOWED_CURRENCIES", "usd, eur")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CHECKOUT_MAX_ATTEMPTS", "5")
	t.Setenv("TRACE_EXPORTER", "otlp")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"USD", "EUR"}, cfg.Business.AllowedCurrencies)
	assert.Equal(t, "EUR", cfg.Business.DefaultCurrency)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Database.StoreDriver)
	assert.Equal(t, 5, cfg.Business.CheckoutMaxAttempts)
	assert.Equal(t, "localhost:4318", cfg.Observ.TraceEndpoint())
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"default currency not allowed", "DEFAULT_CURRENCY", "GBP"},
		{"zero attempts", "CHECKOUT_MAX_ATTEMPTS", "0"},
		{"bad backoff", "CHECKOUT_RETRY_BACKOFF", "soon"},
		{"unknown store driver", "STORE_DRIVER", "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
