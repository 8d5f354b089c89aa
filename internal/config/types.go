package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roundrop/new-tab-text/internal/logging"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration. Every timing constant of the save
// engine lives here; the hardcoded values are defaults, not contracts.
type Config struct {
	Save      SaveConfig      `koanf:"save"`
	Storage   StorageConfig   `koanf:"storage"`
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
	Logging   logging.Config  `koanf:"logging"`
	Mirror    MirrorConfig    `koanf:"mirror"`
}

// SaveConfig tunes the orchestration state machine.
type SaveConfig struct {
	// Debounce is the quiet period after the last edit before a save fires.
	Debounce Duration `koanf:"debounce"`

	// RetryBudget is the number of attempts per content before giving up.
	RetryBudget int `koanf:"retry_budget"`

	// RetryBackoff is the fixed delay between failed attempts.
	RetryBackoff Duration `koanf:"retry_backoff"`

	// ForceWait bounds how long a forced save waits for an in-flight
	// attempt before proceeding with live editor content.
	ForceWait Duration `koanf:"force_wait"`

	// ForcePoll is the polling interval while waiting on ForceWait.
	ForcePoll Duration `koanf:"force_poll"`
}

// StorageConfig tunes the replica set and save protocol.
type StorageConfig struct {
	// SyncURL is the NATS server URL for the synchronized replica.
	// Empty runs in local-only mode.
	SyncURL string `koanf:"sync_url"`

	// SyncBucket is the JetStream KV bucket name.
	SyncBucket string `koanf:"sync_bucket"`

	// SyncTimeout bounds each synchronized-replica operation. Shorter
	// than LocalTimeout because the network path can hang.
	SyncTimeout Duration `koanf:"sync_timeout"`

	// LocalPath is the SQLite database file holding local and backup keys.
	LocalPath string `koanf:"local_path"`

	// LocalTimeout bounds local replica operations.
	LocalTimeout Duration `koanf:"local_timeout"`

	// SyncCapacity is the per-record byte cap of the synchronized replica.
	SyncCapacity int `koanf:"sync_capacity"`

	// LocalCapacity is the per-record byte cap of the local replicas.
	// Records above it are rejected outright.
	LocalCapacity int `koanf:"local_capacity"`

	// VerifyTolerance is the timestamp window accepted by read-back
	// verification.
	VerifyTolerance Duration `koanf:"verify_tolerance"`
}

// LifecycleConfig tunes the trigger policy.
type LifecycleConfig struct {
	// AutosaveTick is the periodic forced-save interval, gated on focus
	// and unsaved changes.
	AutosaveTick Duration `koanf:"autosave_tick"`

	// KeepAlive is the backend liveness-probe interval. Kept well below
	// AutosaveTick so the backend is awake when saves land.
	KeepAlive Duration `koanf:"keep_alive"`
}

// MirrorConfig controls the optional plain-text mirror file.
type MirrorConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Save.RetryBudget < 1 {
		return fmt.Errorf("save.retry_budget must be at least 1, got %d", c.Save.RetryBudget)
	}
	if c.Save.Debounce.Duration() <= 0 {
		return fmt.Errorf("save.debounce must be positive")
	}
	if c.Save.ForcePoll.Duration() <= 0 || c.Save.ForcePoll.Duration() > c.Save.ForceWait.Duration() {
		return fmt.Errorf("save.force_poll must be positive and not exceed save.force_wait")
	}
	if c.Storage.SyncCapacity <= 0 || c.Storage.LocalCapacity <= 0 {
		return fmt.Errorf("storage capacities must be positive")
	}
	if c.Storage.SyncCapacity > c.Storage.LocalCapacity {
		return fmt.Errorf("storage.sync_capacity (%d) cannot exceed storage.local_capacity (%d)",
			c.Storage.SyncCapacity, c.Storage.LocalCapacity)
	}
	if c.Storage.LocalPath == "" {
		return fmt.Errorf("storage.local_path is required")
	}
	if c.Mirror.Enabled && c.Mirror.Path == "" {
		return fmt.Errorf("mirror.path is required when mirror.enabled")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
