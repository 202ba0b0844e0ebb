package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Asia/Tashkent", cfg.Location().String())

	dc := cfg.DispatcherConfig()
	assert.Equal(t, 7, dc.At.Hour)
	assert.Equal(t, 0, dc.At.Minute)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irrigationd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Rome
mqtt:
  host: broker
  port: 8883
session:
  reminder_interval: 20m
  counter_unit_m3: 10
dispatch:
  at: "06:30"
`), 0o600))

	t.Setenv("TZ", "")
	t.Setenv("MQTT_HOST", "env-broker")
	t.Setenv("REMINDER_INTERVAL", "5m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Rome", cfg.Timezone)
	assert.Equal(t, "env-broker", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, 5*time.Minute, cfg.Session.ReminderInterval)
	assert.Equal(t, 10.0, cfg.Session.CounterUnitM3)
	assert.Equal(t, "06:30", cfg.Dispatch.At)
	// untouched defaults survive a partial file
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TZ", "Mars/Olympus")
	t.Setenv("DISPATCH_AT", "25:99")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
	assert.Contains(t, err.Error(), "dispatch.at")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Ranges(t *testing.T) {
	cfg := Default()
	cfg.Session.CounterUnitM3 = 0
	cfg.MQTT.Port = 70000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter_unit_m3")
	assert.Contains(t, err.Error(), "mqtt.port")
}
