// ABOUTME: Tests for config loading, env expansion, durations, and validation

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
server:
  http_addr: ":8080"
database:
  path: /tmp/switchboard.db
auth:
  jwt_secret: test-secret
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/switchboard.db", cfg.Database.Path)

	// Defaults applied
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 5, cfg.Queue.MinutesPerConversation)
	assert.Equal(t, 30*time.Minute, cfg.Queue.MaxWait)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenLifetime)
	assert.Equal(t, "switchboard.events", cfg.Notify.Exchange)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
queue:
  max_wait: 45m
  sweep_interval: 30s
`))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Queue.MaxWait)
	assert.Equal(t, 30*time.Second, cfg.Queue.SweepInterval)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
queue:
  max_wait: not-a-duration
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.max_wait")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/switchboard.db
auth:
  jwt_secret: ${TEST_JWT_SECRET}
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/db
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_LLMRequiresKey(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
classify:
  llm_enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify.api_key")
}

func TestLoad_NotifyRequiresURL(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
notify:
  enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.amqp_url")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestSetupLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	require.NotNil(t, logger)

	logger.Info("hello", "k", "v")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
