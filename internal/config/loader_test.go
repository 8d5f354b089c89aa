package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  local_path: /tmp/ntt-test.db\n")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Save.Debounce.Duration())
	assert.Equal(t, 3, cfg.Save.RetryBudget)
	assert.Equal(t, 2*time.Second, cfg.Save.RetryBackoff.Duration())
	assert.Equal(t, 3*time.Second, cfg.Save.ForceWait.Duration())
	assert.Equal(t, 8192, cfg.Storage.SyncCapacity)
	assert.Equal(t, 5*1024*1024, cfg.Storage.LocalCapacity)
	assert.Equal(t, 2*time.Second, cfg.Storage.SyncTimeout.Duration())
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.AutosaveTick.Duration())
	assert.Equal(t, 20*time.Second, cfg.Lifecycle.KeepAlive.Duration())
	assert.Equal(t, "ntt-notes", cfg.Storage.SyncBucket)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Contains(t, cfg.Logging.AlwaysEmit, "save.failed")
}

func TestLoadWithFile_YAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
save:
  debounce: 250ms
  retry_budget: 5
storage:
  local_path: /tmp/ntt-test.db
  sync_url: nats://example.org:4222
  sync_capacity: 4096
lifecycle:
  autosave_tick: 1m
logging:
  level: debug
  format: console
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Save.Debounce.Duration())
	assert.Equal(t, 5, cfg.Save.RetryBudget)
	assert.Equal(t, "nats://example.org:4222", cfg.Storage.SyncURL)
	assert.Equal(t, 4096, cfg.Storage.SyncCapacity)
	assert.Equal(t, time.Minute, cfg.Lifecycle.AutosaveTick.Duration())
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
save:
  debounce: 250ms
storage:
  local_path: /tmp/ntt-test.db
`)
	t.Setenv("NTT_SAVE_DEBOUNCE", "750ms")
	t.Setenv("NTT_STORAGE_SYNC_BUCKET", "other-bucket")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Save.Debounce.Duration())
	assert.Equal(t, "other-bucket", cfg.Storage.SyncBucket)
}

func TestLoadWithFile_InvalidRetryBudget(t *testing.T) {
	path := writeConfig(t, `
save:
  retry_budget: -1
storage:
  local_path: /tmp/ntt-test.db
`)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_budget")
}

func TestLoadWithFile_SyncCapacityAboveLocal(t *testing.T) {
	path := writeConfig(t, `
storage:
  local_path: /tmp/ntt-test.db
  sync_capacity: 10485760
`)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_capacity")
}

func TestLoadWithFile_MirrorRequiresPath(t *testing.T) {
	path := writeConfig(t, `
storage:
  local_path: /tmp/ntt-test.db
mirror:
  enabled: true
`)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror.path")
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}
