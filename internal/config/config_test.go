package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "harbor", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "harbor/scanner/+/adv", cfg.Scanner.Topic)

	assert.Equal(t, 5*time.Second, cfg.Tracker.WindowHorizon)
	assert.Equal(t, 3*time.Second, cfg.Tracker.StaleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Tracker.FilterIdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.BeaconIdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Tracker.SweepInterval)
	assert.Equal(t, 1024, cfg.Tracker.OutboundQueueSize)
	assert.Equal(t, 24*time.Hour, cfg.Tracker.MaxSampleAge)
	assert.Equal(t, 5*time.Second, cfg.Tracker.MaxClockSkew)

	assert.Equal(t, "harbor:presence:", cfg.Notify.Cache.PresenceKeyPrefix)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "pg")
	t.Setenv("MQTT_BROKER", "tcp://mosquitto:1883")
	t.Setenv("SCANNER_TOPIC", "dock/+/adv")
	t.Setenv("STALE_TIMEOUT", "2s")
	t.Setenv("SWEEP_INTERVAL", "15")
	t.Setenv("OUTBOUND_QUEUE_SIZE", "64")
	t.Setenv("WEBHOOK_URL", "http://push.local/hook")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, "tcp://mosquitto:1883", cfg.MQTT.Broker)
	assert.Equal(t, "dock/+/adv", cfg.Scanner.Topic)
	assert.Equal(t, 2*time.Second, cfg.Tracker.StaleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Tracker.SweepInterval)
	assert.Equal(t, 64, cfg.Tracker.OutboundQueueSize)
	assert.Equal(t, "http://push.local/hook", cfg.Notify.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestGetEnvDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvDuration("X_DURATION", time.Minute))
}

func TestLoad_RejectsInvalidBroker(t *testing.T) {
	os.Clearenv()
	t.Setenv("MQTT_BROKER", "http://broker")

	_, err := Load()
	assert.ErrorContains(t, err, "scheme")
}
