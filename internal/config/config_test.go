package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, "cauce-hub", cfg.ServerName)
	assert.Equal(t, "/cauce/v1", cfg.RoutePrefix)
	assert.True(t, cfg.WebSocketEnabled)
	assert.True(t, cfg.SSEEnabled)
	assert.True(t, cfg.PollingEnabled)
	assert.False(t, cfg.WebhookEnabled)
	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.InitialDelay)
	assert.Equal(t, 300*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomEnvVars(t *testing.T) {
	t.Setenv("ADDRESS", ":9090")
	t.Setenv("SERVER_NAME", "my-hub")
	t.Setenv("REDELIVERY_MAX_ATTEMPTS", "3")
	t.Setenv("LIMITS_RATE_LIMIT_BURST", "25")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, "my-hub", cfg.ServerName)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 25.0, cfg.RateLimitBurst)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate_MissingAddress(t *testing.T) {
	cfg := &Config{MaxAttempts: 5}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADDRESS is required")
}

func TestValidate_BadMaxAttempts(t *testing.T) {
	cfg := &Config{Address: ":8080", MaxAttempts: 0}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_ATTEMPTS")
}

func TestValidate_BrokerRequiresNATSURL(t *testing.T) {
	cfg := &Config{Address: ":8080", MaxAttempts: 5, BrokerEnabled: true}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS_URL is required")
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"staging", false},
		{"production", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.env, func(t *testing.T) {
			cfg := &Config{Environment: tc.env}
			assert.Equal(t, tc.want, cfg.IsDevelopment())
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Run("returns env value when set", func(t *testing.T) {
		t.Setenv("TEST_GET_ENV_KEY", "custom_value")
		assert.Equal(t, "custom_value", getEnv("TEST_GET_ENV_KEY", "fallback"))
	})

	t.Run("returns fallback when not set", func(t *testing.T) {
		os.Unsetenv("TEST_GET_ENV_KEY_MISSING")
		assert.Equal(t, "fallback", getEnv("TEST_GET_ENV_KEY_MISSING", "fallback"))
	})
}

func TestGetEnvInt(t *testing.T) {
	t.Run("returns parsed int when valid", func(t *testing.T) {
		t.Setenv("TEST_INT_KEY", "42")
		assert.Equal(t, 42, getEnvInt("TEST_INT_KEY", 99))
	})

	t.Run("returns fallback when invalid int", func(t *testing.T) {
		t.Setenv("TEST_INT_KEY_BAD", "not-a-number")
		assert.Equal(t, 99, getEnvInt("TEST_INT_KEY_BAD", 99))
	})
}

func TestGetEnvBool(t *testing.T) {
	t.Run("returns true when set to true", func(t *testing.T) {
		t.Setenv("TEST_BOOL_KEY", "true")
		assert.True(t, getEnvBool("TEST_BOOL_KEY", false))
	})

	t.Run("returns fallback when invalid bool", func(t *testing.T) {
		t.Setenv("TEST_BOOL_KEY_BAD", "maybe")
		assert.False(t, getEnvBool("TEST_BOOL_KEY_BAD", false))
	})
}

func TestGetEnvDuration(t *testing.T) {
	t.Run("parses seconds", func(t *testing.T) {
		t.Setenv("TEST_DURATION_KEY", "90")
		assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION_KEY", time.Second))
	})

	t.Run("returns fallback when invalid", func(t *testing.T) {
		t.Setenv("TEST_DURATION_KEY_BAD", "soon")
		assert.Equal(t, time.Minute, getEnvDuration("TEST_DURATION_KEY_BAD", time.Minute))
	})
}
