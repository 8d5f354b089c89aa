// Package config provides configuration loading for ntt.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/roundrop/new-tab-text/internal/logging"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "NTT_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (NTT_SAVE_DEBOUNCE, NTT_STORAGE_SYNC_URL, ...)
//  2. YAML config file (~/.config/ntt/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path is used. A missing file is not an error; defaults apply.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "ntt", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables use underscore separator and are uppercased:
	// NTT_SAVE_DEBOUNCE -> save.debounce, NTT_STORAGE_SYNC_URL -> storage.sync_url.
	// Split on the first underscore after the prefix: section, then field.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureDataDir creates the ntt data directory and returns the default
// database path inside it.
func EnsureDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "ntt")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, "notes.db"), nil
}

// applyDefaults sets default values for missing configuration fields.
// The constants mirror the engine's documented behavior but none of them
// is load-bearing; every one can be overridden.
func applyDefaults(cfg *Config) {
	// Save state machine defaults
	if cfg.Save.Debounce == 0 {
		cfg.Save.Debounce = Duration(time.Second)
	}
	if cfg.Save.RetryBudget == 0 {
		cfg.Save.RetryBudget = 3
	}
	if cfg.Save.RetryBackoff == 0 {
		cfg.Save.RetryBackoff = Duration(2 * time.Second)
	}
	if cfg.Save.ForceWait == 0 {
		cfg.Save.ForceWait = Duration(3 * time.Second)
	}
	if cfg.Save.ForcePoll == 0 {
		cfg.Save.ForcePoll = Duration(100 * time.Millisecond)
	}

	// Storage defaults
	if cfg.Storage.SyncBucket == "" {
		cfg.Storage.SyncBucket = "ntt-notes"
	}
	if cfg.Storage.SyncTimeout == 0 {
		cfg.Storage.SyncTimeout = Duration(2 * time.Second)
	}
	if cfg.Storage.LocalTimeout == 0 {
		cfg.Storage.LocalTimeout = Duration(5 * time.Second)
	}
	if cfg.Storage.SyncCapacity == 0 {
		cfg.Storage.SyncCapacity = 8192
	}
	if cfg.Storage.LocalCapacity == 0 {
		cfg.Storage.LocalCapacity = 5 * 1024 * 1024
	}
	if cfg.Storage.VerifyTolerance == 0 {
		cfg.Storage.VerifyTolerance = Duration(5 * time.Second)
	}
	if cfg.Storage.LocalPath == "" {
		if path, err := EnsureDataDir(); err == nil {
			cfg.Storage.LocalPath = path
		}
	}

	// Lifecycle defaults
	if cfg.Lifecycle.AutosaveTick == 0 {
		cfg.Lifecycle.AutosaveTick = Duration(30 * time.Second)
	}
	if cfg.Lifecycle.KeepAlive == 0 {
		cfg.Lifecycle.KeepAlive = Duration(20 * time.Second)
	}

	// Logging defaults
	if cfg.Logging.Format == "" {
		def := logging.NewDefaultConfig()
		cfg.Logging.Format = def.Format
		if cfg.Logging.AlwaysEmit == nil {
			cfg.Logging.AlwaysEmit = def.AlwaysEmit
		}
		if cfg.Logging.Fields == nil {
			cfg.Logging.Fields = def.Fields
		}
	}
}
