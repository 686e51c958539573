package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	cfg := m.Get()
	assert.Equal(t, 4, cfg.Capture.Workers)
	assert.Equal(t, 512, cfg.Capture.ThumbnailMaxWidth)
	assert.Equal(t, 500, cfg.Capture.TimeoutMS)
	assert.Equal(t, 100, cfg.Events.BackoffMinMS)
	assert.Equal(t, 1000, cfg.Events.BackoffMaxMS)
	assert.Equal(t, QueryModeHyprctl, cfg.Hyprland.QueryMode)
	assert.Equal(t, "127.0.0.1", cfg.ServerHost)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadNormalizesBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server_port: -1
capture:
  workers: 0
  thumbnail_max_width: 256
  poll_interval_ms: 9000
events:
  backoff_min_ms: 200
  backoff_max_ms: 50
hyprland:
  query_mode: carrier-pigeon
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg := m.Get()

	assert.Equal(t, 8787, cfg.ServerPort)
	assert.Equal(t, 4, cfg.Capture.Workers)
	assert.Equal(t, 256, cfg.Capture.ThumbnailMaxWidth)
	assert.Equal(t, 50, cfg.Capture.PollIntervalMS)
	assert.Equal(t, 200, cfg.Events.BackoffMinMS)
	assert.Equal(t, 200, cfg.Events.BackoffMaxMS)
	assert.Equal(t, QueryModeHyprctl, cfg.Hyprland.QueryMode)
	// fields absent from the file keep their defaults
	assert.True(t, cfg.Capture.X11Fallback)
}

func TestGetReturnsCopy(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cfg := m.Get()
	cfg.ServerPort = 1

	assert.NotEqual(t, 1, m.Get().ServerPort)
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	cfg.Capture.Workers = 2
	cfg.LogLevel = "debug"
	require.NoError(t, m.Update(cfg))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Get().Capture.Workers)
	assert.Equal(t, "debug", reloaded.Get().LogLevel)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capture: [unterminated"), 0644))

	_, err := NewManager(path)
	assert.Error(t, err)
}

func TestSetAndGetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, m.SetValue("capture.workers", "8"))
	require.NoError(t, m.SetValue("capture.x11_fallback", "false"))
	require.NoError(t, m.SetValue("events.refresh_rate", "2.5"))
	require.NoError(t, m.SetValue("hyprland.wayland_display", "wayland-1"))
	require.NoError(t, m.SetValue("log_level", "debug"))

	cfg := m.Get()
	assert.Equal(t, 8, cfg.Capture.Workers)
	assert.False(t, cfg.Capture.X11Fallback)
	assert.Equal(t, 2.5, cfg.Events.RefreshRate)
	assert.Equal(t, "wayland-1", cfg.Hyprland.WaylandDisplay)
	assert.Equal(t, "debug", cfg.LogLevel)

	got, err := m.GetValue("capture.workers")
	require.NoError(t, err)
	assert.EqualValues(t, 8, got)

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 8, reloaded.Get().Capture.Workers)

	assert.Error(t, m.SetValue("capture.workers", "many"))
	assert.Error(t, m.SetValue("capture.x11_fallback", "maybe"))
	assert.Error(t, m.SetValue("capture", "x"))
	assert.Error(t, m.SetValue("no_such_key", "1"))
	_, err = m.GetValue("no_such_key")
	assert.Error(t, err)
}

func TestServerHostAndAllowedOrigins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_host: \"\"\nserver_port: 8787\n"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", m.Get().ServerHost, "empty host falls back to loopback")

	require.NoError(t, m.SetValue("allowed_origins", "http://localhost:5173, ,https://overlay.local"))
	assert.Equal(t, []string{"http://localhost:5173", "https://overlay.local"}, m.Get().AllowedOrigins)

	// callers cannot reach the manager's slice
	m.Get().AllowedOrigins[0] = "https://evil.example"
	assert.Equal(t, "http://localhost:5173", m.Get().AllowedOrigins[0])

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://overlay.local"}, reloaded.Get().AllowedOrigins)

	require.NoError(t, reloaded.SetValue("allowed_origins", ""))
	assert.Empty(t, reloaded.Get().AllowedOrigins)
}
