package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "safecheck", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Empty(t, cfg.MQTT.Broker)

	assert.Equal(t, 60*time.Second, cfg.Watchdog.ScanInterval)
	assert.Equal(t, 48*time.Hour, cfg.Watchdog.InactivityLimit)

	assert.Equal(t, DispatchLog, cfg.Dispatch.Mode)
	assert.Equal(t, 8, cfg.Dispatch.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.WebhookTimeout)
	assert.False(t, cfg.Dispatch.StreamRelay)
	assert.False(t, cfg.EscalationLogEnabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("WATCHDOG_SCAN_INTERVAL", "15s")
	t.Setenv("WATCHDOG_INACTIVITY_LIMIT", "24h")
	t.Setenv("DISPATCH_MODE", "stream")
	t.Setenv("DISPATCH_CONCURRENCY", "4")
	t.Setenv("DISPATCH_STREAM_RELAY", "true")
	t.Setenv("ESCALATION_LOG_ENABLED", "1")
	t.Setenv("LOG_FILENAME", "/var/log/safecheck.log")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 15*time.Second, cfg.Watchdog.ScanInterval)
	assert.Equal(t, 24*time.Hour, cfg.Watchdog.InactivityLimit)
	assert.Equal(t, DispatchStream, cfg.Dispatch.Mode)
	assert.Equal(t, 4, cfg.Dispatch.Concurrency)
	assert.True(t, cfg.Dispatch.StreamRelay)
	assert.True(t, cfg.EscalationLogEnabled)
	assert.Equal(t, "/var/log/safecheck.log", cfg.Log.Filename)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"WATCHDOG_SCAN_INTERVAL", "soon"},
		{"WATCHDOG_INACTIVITY_LIMIT", "-1h"},
		{"DISPATCH_CONCURRENCY", "many"},
		{"DISPATCH_CONCURRENCY", "0"},
		{"STORE_BACKEND", "mongo"},
		{"DISPATCH_MODE", "pigeon"},
		{"DISPATCH_STREAM_RELAY", "maybe"},
		{"ESCALATION_LOG_ENABLED", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
