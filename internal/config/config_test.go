package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/cards")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "CardLedger", cfg.AppName)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 10*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, IdempotencyModeClaim, cfg.Idempotency.Mode)
	assert.Equal(t, time.Hour, cfg.FX.TTL)
	assert.Equal(t, 3, cfg.MaxCardsPerUser)
	assert.Equal(t, int64(10000), cfg.MaxInitialBalance)
	assert.Equal(t, 5, cfg.TokenRateLimitPerMinute)
	assert.False(t, cfg.EnableTestTokens)
	assert.True(t, cfg.MigrateOnStart)
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("IDEMPOTENCY_MODE", "check-then-save")
	t.Setenv("FX_TTL", "30m")
	t.Setenv("MAX_CARDS_PER_USER", "5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, IdempotencyModeCheckThenSave, cfg.Idempotency.Mode)
	assert.Equal(t, 30*time.Minute, cfg.FX.TTL)
	assert.Equal(t, 5, cfg.MaxCardsPerUser)
}

func TestFromEnvRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cards")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvRejectsUnknownMode(t *testing.T) {
	setRequired(t)
	t.Setenv("IDEMPOTENCY_MODE", "optimistic")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvRejectsNonPositiveLimits(t *testing.T) {
	for name, env := range map[string][2]string{
		"zero initial balance cap": {"MAX_INITIAL_BALANCE", "0"},
		"negative initial balance": {"MAX_INITIAL_BALANCE", "-5"},
		"zero cards per user":      {"MAX_CARDS_PER_USER", "0"},
	} {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(env[0], env[1])

			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}
