package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_abc123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc123")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 48*time.Hour, cfg.DownloadTokenTTL)
	assert.Equal(t, DefaultMaxDownloads, cfg.MaxDownloads)
	assert.Equal(t, DefaultLinkRateQuota, cfg.LinkRateQuota)
}

func TestLoad_MissingStripeKey(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc123")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY is required")
}

func TestLoad_MalformedStripeKey(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "pk_test_notasecret")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc123")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be a Stripe secret key")
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_abc123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET is required")
}

func TestLoad_DurationOverrides(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_abc123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc123")
	setEnv(t, "DOWNLOAD_TOKEN_TTL", "24h")
	setEnv(t, "LINK_RATE_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.DownloadTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.LinkRateWindow)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_abc123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc123")
	setEnv(t, "DOWNLOAD_TOKEN_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultDownloadTokenTTL, cfg.DownloadTokenTTL)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_abc123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc123")
	setEnv(t, "ALLOWED_ORIGINS", "https://fiscal.fm, https://www.fiscal.fm")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://fiscal.fm", "https://www.fiscal.fm"}, cfg.AllowedOrigins)
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := &Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Env = "development"
	assert.True(t, cfg.IsDevelopment())
}
