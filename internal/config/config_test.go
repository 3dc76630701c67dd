package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/pkg/types"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4810, cfg.Port)
	assert.Equal(t, "claude", cfg.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ProjectConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".taskdeck", "taskdeck.json"), `{
  "port": 9999,
  "model": "opus",
  "mode": "plan"
}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "opus", cfg.Model)
	assert.Equal(t, types.ModePlan, cfg.Mode)
	// Untouched fields keep defaults.
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoad_JSONCComments(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".taskdeck", "taskdeck.jsonc"), `{
  // loopback only
  "host": "localhost",
  "port": 4811, // custom port
}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 4811, cfg.Port)
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKDECK_TEST_MODEL", "sonnet")

	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".taskdeck", "taskdeck.json"),
		`{"model": "{env:TASKDECK_TEST_MODEL}"}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sonnet", cfg.Model)
}

func TestLoad_FileInterpolation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	projectDir := filepath.Join(dir, ".taskdeck")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "model.txt"), []byte("haiku"), 0o644))
	writeConfig(t, filepath.Join(projectDir, "taskdeck.json"),
		`{"model": "{file:model.txt}"}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "haiku", cfg.Model)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKDECK_PORT", "5000")
	t.Setenv("TASKDECK_BACKEND", "codex")

	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".taskdeck", "taskdeck.json"), `{"port": 9999}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "codex", cfg.Backend)
}

func TestLoad_InlineConfigContent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKDECK_CONFIG_CONTENT", `{"model": "inline-model"}`)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "inline-model", cfg.Model)
}

func TestLoad_ConfigFileOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dataDir": "/var/lib/taskdeck"}`), 0o644))
	t.Setenv("TASKDECK_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/taskdeck", cfg.DataDir)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "taskdeck.json")
	cfg := Default()
	cfg.Model = "opus"

	require.NoError(t, Save(cfg, path))

	var loaded Config
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, "opus", loaded.Model)
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "taskdeck.db"), cfg.DatabasePath())
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
