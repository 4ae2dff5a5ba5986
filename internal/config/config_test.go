package config

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hexKeyA = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	hexKeyB = "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"
)

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "DATABASE_URL", "REDIS_URL", "ENVELOPE_KEY", "SIGNING_KEY", "JWT_SECRET",
		"REALTIME_TOKEN_SECRET", "DEFAULT_PROVIDER", "REALTIME_FANOUT",
		"CARD_PROVIDER_ENABLED", "MOMO_PROVIDER_ENABLED", "SANDBOX_PROVIDER_ENABLED", "SANDBOX_WEBHOOK_SECRET",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadDevelopmentGeneratesEphemeralSecrets(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":                  "development",
		"DEFAULT_PROVIDER":         "sandbox",
		"SANDBOX_PROVIDER_ENABLED": "true",
		"SANDBOX_WEBHOOK_SECRET":   "sandbox-secret",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ENVELOPE_KEY", "SIGNING_KEY", "JWT_SECRET", "REALTIME_TOKEN_SECRET"}, cfg.Ephemeral)
	assert.Len(t, cfg.EnvelopeKeyBytes(), 32)
	assert.NotEqual(t, cfg.EnvelopeKeyBytes(), cfg.SigningKeyBytes())
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.PendingTTL)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":      "production",
		"DATABASE_URL": "postgres://localhost/paygate",
		"REDIS_URL":    "redis://localhost:6379/0",
	})

	_, err := Load()
	require.Error(t, err)
	for _, name := range []string{"ENVELOPE_KEY", "SIGNING_KEY", "JWT_SECRET", "REALTIME_TOKEN_SECRET"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestLoadProductionRejectsMisconfiguredProvider(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":               "production",
		"DATABASE_URL":          "postgres://localhost/paygate",
		"REDIS_URL":             "redis://localhost:6379/0",
		"ENVELOPE_KEY":          hexKeyA,
		"SIGNING_KEY":           hexKeyB,
		"JWT_SECRET":            "jwt-secret",
		"REALTIME_TOKEN_SECRET": "realtime-secret",
		"CARD_PROVIDER_ENABLED": "true",
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CARD_SECRET_KEY")
}

func TestLoadRejectsSharedKeys(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":                  "development",
		"ENVELOPE_KEY":             hexKeyA,
		"SIGNING_KEY":              hexKeyA,
		"DEFAULT_PROVIDER":         "sandbox",
		"SANDBOX_PROVIDER_ENABLED": "true",
		"SANDBOX_WEBHOOK_SECRET":   "sandbox-secret",
	})

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "must differ"))
}

func TestLoadRedisFanoutNeedsRedis(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":                  "development",
		"REALTIME_FANOUT":          "redis",
		"DEFAULT_PROVIDER":         "sandbox",
		"SANDBOX_PROVIDER_ENABLED": "true",
		"SANDBOX_WEBHOOK_SECRET":   "sandbox-secret",
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REALTIME_FANOUT=redis")
}

func TestDecodeSecret(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	assert.Len(t, DecodeSecret(hexKeyA), 32)
	assert.Equal(t, raw, DecodeSecret(base64.StdEncoding.EncodeToString(raw)))
	assert.Equal(t, []byte("plain-secret!"), DecodeSecret("plain-secret!"))
	assert.Nil(t, DecodeSecret(""))
}
