package config_test

import (
	"testing"

	"github.com/BenoitPrmt/terrarium-monitor/internal/config"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.True(t, cfg.DBEnabled)
	require.Equal(t, 120, cfg.Ingest.RatePerMinute)
	require.Equal(t, 31, cfg.Ingest.RetentionDays)
	require.Equal(t, 3, cfg.Webhook.MaxRetries)
	require.Equal(t, 10, cfg.Webhook.TimeoutSec)
	require.Equal(t, "terrarium-monitor/1.0", cfg.Webhook.UserAgent)
	require.False(t, cfg.MQTT.Enabled)
	require.Equal(t, "terrarium/+/record", cfg.MQTT.Topic)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("INGEST_RATE_PER_MINUTE", "10")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("WEBHOOK_SIGNATURE_SECRET", "test-secret")

	cfg := config.Load()

	require.Equal(t, ":9000", cfg.HTTP.Addr)
	require.Equal(t, 10, cfg.Ingest.RatePerMinute)
	require.False(t, cfg.DBEnabled)
	require.Equal(t, "test-secret", cfg.Webhook.SigningSecret)
}

func TestLoad_BadIntFallsBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	cfg := config.Load()

	require.Equal(t, 5432, cfg.Database.Port)
}
