package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100_000, cfg.Bus.Capacity)
	assert.Equal(t, 5, cfg.Scheduler.MaxBackground)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.MaxThreadLifetime)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "concord", cfg.Name)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concord.yaml")
	data := `
bus:
  capacity: 512
budget:
  window: 10s
  max_units: 50
heartbeat:
  local_interval: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Bus.Capacity)
	assert.Equal(t, 10*time.Second, cfg.Budget.Window)
	assert.Equal(t, float64(50), cfg.Budget.MaxUnits)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.LocalInterval)
	// Untouched sections keep defaults.
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.GlobalInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concord.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  capacity: -1\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONCORD_LLM_ENDPOINT", "http://example:9999")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://example:9999", cfg.LLM.Endpoint)
}
