package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5690, cfg.Server.Port)
	assert.Equal(t, 10000, cfg.Bus.QueueCapacity)
	assert.True(t, cfg.Bus.DeadLetterQueue)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	content := `
log:
  level: debug
  json_output: true
server:
  port: 7001
  connection_key: secret
  session_limit_count: 8
bus:
  worker_threads: 12
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSONOutput)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.ConnectionKey)
	assert.Equal(t, 8, cfg.Server.SessionLimitCount)
	assert.Equal(t, 12, cfg.Bus.WorkerThreads)

	// Untouched sections keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Client.ServerIP)
	assert.Equal(t, 10000, cfg.Bus.QueueCapacity)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
