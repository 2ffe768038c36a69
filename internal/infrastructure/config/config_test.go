package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Terminal config
	assert.Equal(t, 1<<20, cfg.Terminal.BufferSize)
	assert.Equal(t, 10*time.Minute, cfg.Terminal.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.Terminal.SweepInterval)
	assert.Equal(t, 10, cfg.Terminal.MaxConnsPerIP)
	assert.Equal(t, 64*1024, cfg.Terminal.MaxMessageSize)

	// Agent config
	assert.Equal(t, 4, cfg.Agent.MaxConcurrent)
	assert.Equal(t, 5.0, cfg.Agent.DefaultMaxCost)
	assert.Equal(t, 200, cfg.Agent.MaxMessages)
	assert.Equal(t, 5, cfg.Agent.CheckpointEvery)
	assert.Equal(t, time.Hour, cfg.Agent.TTL)

	// Store config
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                  "9000",
		"HOST":                  "127.0.0.1",
		"AUTH_TOKEN":            "secret",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"TERMINAL_IDLE_TIMEOUT": "5m",
		"MAX_CONNS_PER_IP":      "3",
		"MAX_CONCURRENT_AGENTS": "2",
		"DEFAULT_MAX_COST_USD":  "1.5",
		"AGENT_TTL":             "30m",
		"WORKSPACE_ROOTS":       "/tmp/a,/tmp/b",
		"STORE_DRIVER":          "file",
		"STORE_PATH":            "/tmp/deckd-store",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "secret", cfg.Auth.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 5*time.Minute, cfg.Terminal.IdleTimeout)
	assert.Equal(t, 3, cfg.Terminal.MaxConnsPerIP)
	assert.Equal(t, 2, cfg.Agent.MaxConcurrent)
	assert.Equal(t, 1.5, cfg.Agent.DefaultMaxCost)
	assert.Equal(t, 30*time.Minute, cfg.Agent.TTL)
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, cfg.Workspace.Roots)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "/tmp/deckd-store", cfg.Store.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"zero buffer", func(c *Config) { c.Terminal.BufferSize = 0 }, true},
		{"zero conn cap", func(c *Config) { c.Terminal.MaxConnsPerIP = 0 }, true},
		{"zero concurrency", func(c *Config) { c.Agent.MaxConcurrent = 0 }, true},
		{"message bound below two", func(c *Config) { c.Agent.MaxMessages = 1 }, true},
		{"zero checkpoint", func(c *Config) { c.Agent.CheckpointEvery = 0 }, true},
		{"no roots", func(c *Config) { c.Workspace.Roots = nil }, true},
		{"bad driver", func(c *Config) { c.Store.Driver = "redis" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deckd.yaml")
	content := []byte(`
workspaces:
  - id: main
    path: /srv/code
  - id: scratch
    path: /srv/scratch
ignore:
  - "**/node_modules/**"
notify:
  slack_channel: "#deploys"
  webhook_url: https://example.com/hook
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := LoadFile(path, true)
	require.NoError(t, err)
	require.Len(t, f.Workspaces, 2)
	assert.Equal(t, "main", f.Workspaces[0].ID)
	assert.Equal(t, "/srv/code", f.Workspaces[0].Path)
	assert.Equal(t, []string{"**/node_modules/**"}, f.Ignore)
	assert.Equal(t, "#deploys", f.Notify.SlackChannel)

	cfg := Default()
	cfg.Merge(f)
	assert.Equal(t, []string{"/srv/code", "/srv/scratch"}, cfg.Workspace.Roots)
	assert.Equal(t, "https://example.com/hook", cfg.Notify.WebhookURL)
}

func TestLoadFileMissing(t *testing.T) {
	// Probing the default location tolerates absence.
	f, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)
	assert.Empty(t, f.Workspaces)

	// An explicitly requested file must exist.
	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}
