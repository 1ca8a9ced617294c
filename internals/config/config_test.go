package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Session.OfflineTimeout)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 1.5, cfg.Reconnect.Multiplier)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.SwitchGrace)
	assert.Equal(t, "high", cfg.Device.Quality)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEURLs)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("ROOMLINK_RECONNECT_BASE_DELAY", "3s")
	t.Setenv("ROOMLINK_RECONNECT_MAX_ATTEMPTS", "7")
	t.Setenv("ROOMLINK_SESSION_ROOM", "studio-a")
	t.Setenv("ROOMLINK_REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 7, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, "studio-a", cfg.Session.Room)
	assert.True(t, cfg.Redis.Enabled)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  room: from-file
  offline_timeout: 4s
device:
  backend: pion
logging:
  level: debug
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("ROOMLINK_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Session.Room)
	assert.Equal(t, 4*time.Second, cfg.Session.OfflineTimeout)
	assert.Equal(t, "pion", cfg.Device.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 1.5, cfg.Reconnect.Multiplier)
}

func TestMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("ROOMLINK_RECONNECT_MULTIPLIER", "0.5")
	t.Setenv("ROOMLINK_DEVICE_BACKEND", "v4l2")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect.multiplier")
	assert.Contains(t, err.Error(), "device.backend")
}
