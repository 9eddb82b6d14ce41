package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tfl:\n  base_url: https://api.example.net\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.net", cfg.TfL.BaseURL)
	assert.Equal(t, "tube", cfg.TfL.Mode)
	assert.Equal(t, "NaptanMetroStation", cfg.TfL.StopType)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "static", cfg.Server.StaticDir)
	assert.Equal(t, "", cfg.TfL.PushURL)
	assert.False(t, cfg.Alerts.TrainApproaching)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
tfl:
  push_url: wss://push.example.net/predictions
  mode: dlr
  stop_type: NaptanMetroStation
server:
  listen: ":9000"
  static_dir: web
alerts:
  train_approaching: true
`))
	require.NoError(t, err)
	assert.Equal(t, "wss://push.example.net/predictions", cfg.TfL.PushURL)
	assert.Equal(t, "dlr", cfg.TfL.Mode)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.True(t, cfg.Alerts.TrainApproaching)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tfl: [not a map"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
