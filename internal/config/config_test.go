package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "")
	t.Setenv("INSTANCE_ID", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "wss://api.openai.com/v1/realtime", cfg.RealtimeURL)
	assert.Equal(t, "alloy", cfg.Voice)
	assert.Equal(t, 50, cfg.MaxConcurrentCalls)
	assert.False(t, cfg.DatabaseEnabled)
	assert.NotEmpty(t, cfg.InstanceID, "instance ID falls back to hostname")
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9090")
	t.Setenv("INSTANCE_ID", "bridge-2")
	t.Setenv("OPENAI_VOICE", "verse")
	t.Setenv("MAX_CONCURRENT_CALLS", "5")
	t.Setenv("DATABASE_ENABLED", "true")
	t.Setenv("PUBLIC_HOST", "calls.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "bridge-2", cfg.InstanceID)
	assert.Equal(t, "verse", cfg.Voice)
	assert.Equal(t, 5, cfg.MaxConcurrentCalls)
	assert.True(t, cfg.DatabaseEnabled)
	assert.Equal(t, "calls.example.com", cfg.PublicHost)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 7, GetEnvIntOrDefault("SOME_INT", 7))

	t.Setenv("SOME_BOOL", "yes-ish")
	assert.True(t, GetEnvBoolOrDefault("SOME_BOOL", true))

	t.Setenv("SOME_STR", "")
	assert.Equal(t, "fallback", GetEnvOrDefault("SOME_STR", "fallback"))
}
