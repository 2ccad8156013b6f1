package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "https://gitlab.com", cfg.GitLab.BaseURL)
	assert.Equal(t, 14, cfg.Collector.WindowDays)
	assert.Equal(t, time.Hour, cfg.Collector.Overlap)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gitlab:
  base_url: https://gitlab.example.com
  group: platform
collector:
  window_days: 30
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", cfg.GitLab.BaseURL)
	assert.Equal(t, "platform", cfg.GitLab.Group)
	assert.Equal(t, 30, cfg.Collector.WindowDays)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Type, "unset sections keep defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEVPULSE_GITLAB_TOKEN", "glpat-test")
	t.Setenv("DEVPULSE_POSTGRES_DSN", "postgres://localhost/devpulse")
	t.Setenv("DEVPULSE_WINDOW_DAYS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "glpat-test", cfg.GitLab.Token)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, 7, cfg.Collector.WindowDays)
}

func TestLoad_InvalidStorage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: redis\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}
