package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("DB_DRIVER", "memory")
}

func TestNewDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "noop", cfg.Cache.Driver)
	assert.Equal(t, "noop", cfg.Messaging.Driver)
	assert.Equal(t, "usd", cfg.Payments.Currency)
	assert.Equal(t, 5*time.Minute, cfg.Payments.Stripe.SignatureMaxAge)
	assert.Equal(t, 10*time.Second, cfg.Webhooks.Timeout)
	assert.Equal(t, int64(1<<20), cfg.Webhooks.MaxBodyBytes)
	assert.Equal(t, "admin", cfg.Auth.AdminRole)
	assert.False(t, cfg.Payments.Stripe.Configured())
	assert.False(t, cfg.Payments.PayPal.Configured())
}

func TestNewRequiresJWTSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := New()
	assert.Error(t, err)
}

func TestNewRejectsUnknownDatabaseDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_DRIVER", "oracle")

	_, err := New()
	assert.Error(t, err)
}

func TestProviderConfigured(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("PAYPAL_CLIENT_ID", "client")
	t.Setenv("PAYPAL_CLIENT_SECRET", "secret")
	t.Setenv("PAYPAL_BASE_URL", "https://api-m.paypal.com/")

	cfg, err := New()
	require.NoError(t, err)
	assert.True(t, cfg.Payments.Stripe.Configured())
	assert.False(t, cfg.Payments.PayPal.Configured(), "webhook id is still missing")
	assert.Equal(t, "https://api-m.paypal.com", cfg.Payments.PayPal.BaseURL)
}

func TestGetEnvAsStringSlice(t *testing.T) {
	t.Setenv("TEST_SLICE", " a, ,B ")
	assert.Equal(t, []string{"a", "B"}, getEnvAsStringSlice("TEST_SLICE", nil, false))
	assert.Equal(t, []string{"a", "b"}, getEnvAsStringSlice("TEST_SLICE", nil, true))
	t.Setenv("TEST_SLICE", " , ")
	assert.Equal(t, []string{"x"}, getEnvAsStringSlice("TEST_SLICE", []string{"x"}, false))
}

func TestNewNormalisesDriversAndHosts(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_DRIVER", " SQLite ")
	t.Setenv("DB_WRITER_DSN", "file::memory:")
	t.Setenv("PAYMENTS_CURRENCY", "EUR")
	t.Setenv("PAYPAL_CERT_HOSTS", "API.PayPal.com")
	t.Setenv("STRIPE_SIGNATURE_MAX_AGE", "-1m")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "eur", cfg.Payments.Currency)
	assert.Equal(t, []string{"api.paypal.com"}, cfg.Payments.PayPal.CertHosts)
	assert.Equal(t, 5*time.Minute, cfg.Payments.Stripe.SignatureMaxAge)
}

func TestNewReadsSecretFiles(t *testing.T) {
	setBaseEnv(t)
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "stripe_webhook_secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("whsec_from_file\n"), 0o600))
	t.Setenv("STRIPE_WEBHOOK_SECRET_FILE", secretPath)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "whsec_from_file", cfg.Payments.Stripe.WebhookSecret)

	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	cfg, err = New()
	require.NoError(t, err)
	assert.Equal(t, "whsec_env", cfg.Payments.Stripe.WebhookSecret, "the variable wins over its file")

	t.Setenv("PAYPAL_CLIENT_SECRET_FILE", filepath.Join(dir, "missing"))
	_, err = New()
	assert.Error(t, err)
}
