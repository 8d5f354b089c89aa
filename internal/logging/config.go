package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level emitted through the normal filter.
	Level zapcore.Level `koanf:"level"`

	// Format selects the encoder: "json" or "console".
	Format string `koanf:"format"`

	// AlwaysEmit lists message categories that bypass the level filter.
	// Save-critical events stay visible even when Level silences their
	// native level.
	AlwaysEmit []string `koanf:"always_emit"`

	// Fields are constant fields attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// CategoryKey is the field name carrying the message category.
const CategoryKey = "category"

// Save-critical categories emitted by the engine.
const (
	CategorySaveFailed    = "save.failed"
	CategorySaveGaveUp    = "save.gaveup"
	CategoryRecordTooBig  = "record.toolarge"
	CategorySaveVerified  = "save.verified"
	CategoryRepair        = "replica.repair"
	CategoryBackendAsleep = "backend.asleep"
)

// NewDefaultConfig returns config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		AlwaysEmit: []string{
			CategorySaveFailed,
			CategorySaveGaveUp,
			CategoryRecordTooBig,
		},
		Fields: map[string]string{
			"service": "ntt",
		},
	}
}

// Validate checks config consistency.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("invalid format %q (want json or console)", c.Format)
	}
	for _, cat := range c.AlwaysEmit {
		if cat == "" {
			return fmt.Errorf("always_emit contains an empty category")
		}
	}
	return nil
}
