package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RateLimitDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 60, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.MessageRateLimit.Window)
	assert.Equal(t, 10, cfg.MessageRateLimit.MaxRequests)
}

func TestLoad_RateLimitOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW_MS", "1000")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "2")
	t.Setenv("MESSAGE_RATE_LIMIT_MAX", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 2, cfg.RateLimit.MaxRequests)
	// non-positive values fall back to the default
	assert.Equal(t, 10, cfg.MessageRateLimit.MaxRequests)
}

func TestValidate_ProductionRequiresStrongSecret(t *testing.T) {
	t.Setenv("ENV", "production")

	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "short")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
