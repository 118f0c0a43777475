package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/remote"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileIsEmpty(t *testing.T) {
	fc, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, FileConfig{}, fc)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoad_AllSections(t *testing.T) {
	t.Setenv(TokenEnv, "")
	path := writeConfig(t, `
[remote]
base_url = "https://progress.example.com/api"
token = "file-token"
timeout = "3s"

[store]
path = "/tmp/p.db"

[catalog]
dir = "./courses"

[timing]
tick = "5s"
flush = "30s"
check = "2s"
realtime = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://progress.example.com/api", cfg.BaseURL)
	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, "/tmp/p.db", cfg.DBPath)
	assert.Equal(t, "./courses", cfg.CatalogDir)
	assert.Equal(t, 5*time.Second, cfg.Timing.Tick)
	assert.Equal(t, 30*time.Second, cfg.Timing.Flush)
	assert.Equal(t, 2*time.Second, cfg.Timing.Check)
	assert.True(t, cfg.Timing.Realtime)
	assert.False(t, cfg.Offline())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(TokenEnv, "")
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.True(t, cfg.Offline())
	assert.Equal(t, remote.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, filepath.Join("/data", "progsync", "progsync.db"), cfg.DBPath)
	assert.Zero(t, cfg.Timing.Tick, "zero selects the accumulator defaults")
}

func TestLoad_EnvTokenWins(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")
	cfg, err := Load(writeConfig(t, "[remote]\ntoken = \"file-token\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "[timing]\ntick = \"soon\"\n"},
		{"negative duration", "[timing]\nflush = \"-1s\"\n"},
		{"sub-second tick", "[timing]\ntick = \"500ms\"\n"},
		{"unknown key", "[remote]\nurl = \"x\"\n"},
		{"syntax", "[remote\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/cfg", "progsync", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join("/data", "progsync", "progsync.db"), DefaultDBPath())
}
