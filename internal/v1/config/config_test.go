package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD", "GO_ENV",
		"LOG_LEVEL", "COOKIE_NAME", "ALLOWED_ORIGINS", "PING_INTERVAL_MS",
		"ROOM_CLEANUP_GRACE_SECONDS", "RATE_LIMIT_WS_UPGRADE",
	} {
		t.Setenv(key, "")
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	clearEnv(t)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
}

func TestValidateEnv_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "watchroom_id", cfg.CookieName)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "20-M", cfg.RateLimitUpgrade)
}

func TestValidateEnv_RedisRequiresAddrFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "not-a-host-port")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestValidateEnv_InvalidPingInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("PING_INTERVAL_MS", "not-a-number")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PING_INTERVAL_MS")
}

func TestValidateEnv_ParsesAllowedOriginsList(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}
