package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8082, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "redis", cfg.Broker)
	assert.Equal(t, 3, cfg.CommandMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.ConsumerClaimIdle)
	assert.True(t, cfg.OutboxRelayEnabled)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://ledger.db")
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("BROKER", "kafka")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DRIVER")
	assert.Contains(t, err.Error(), "BROKER")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: "text"}
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf, "account-service")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "service=account-service")
}
