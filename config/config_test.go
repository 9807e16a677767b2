package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "admin", cfg.Auth.AdminUsername)
	assert.Equal(t, "admin-001", cfg.Auth.AdminID)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 2*time.Hour, cfg.Auth.RefreshThreshold)
	assert.Equal(t, "file::memory:?cache=shared", cfg.Database.DSN)
	assert.Equal(t, 64, cfg.Relay.SendQueueSize)
	assert.Equal(t, 24, cfg.Relay.SessionTTLHours)
	assert.False(t, cfg.Relay.RequireDeviceToken)
	assert.Equal(t, "@every 1h", cfg.Retention.Schedule)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Push.Enabled())
}

func TestLoad_FileValuesWin(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
auth:
  jwt_secret: s3cret
  token_ttl_hours: 1
relay:
  require_device_token: true
poller:
  enabled: true
  interval_seconds: 5
push:
  vapid_public_key: pub
  vapid_private_key: priv
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Relay.RequireDeviceToken)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
	assert.True(t, cfg.Push.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "9090")
	t.Setenv("RELAY_JWT_SECRET", "from-env")
	t.Setenv("RELAY_DATABASE_DSN", "postgres://relay@localhost/relay")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "auth:\n  jwt_secret: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://relay@localhost/relay", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "")
	_, err := Load(writeConfig(t, "server:\n  port: 3000\n"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "from-env")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Retention.Enabled)
	assert.True(t, cfg.Poller.Enabled)
	assert.NotEmpty(t, cfg.Retention.Schedule)
	assert.Positive(t, cfg.Poller.Interval)

	t.Setenv("RELAY_JWT_SECRET", "")
	_, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 2, cfg.WorkerPool.Size)
}
