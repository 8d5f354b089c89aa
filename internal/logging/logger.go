// Package logging wraps Zap with the engine's level filtering and
// always-emit category behavior. Save-critical messages, identified by
// category, stay visible regardless of the configured minimum level.
package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps Zap with context-aware methods and category routing.
//
// Two views share one sink: filtered honors Config.Level, unfiltered
// accepts everything. WithCategory selects the unfiltered view when the
// category is in the always-emit set.
type Logger struct {
	filtered   *zap.Logger
	unfiltered *zap.Logger
	always     map[string]struct{}
	bypass     bool
	config     *Config
}

// NewLogger creates a logger from config writing to stderr.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	base := zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return fromCore(base, cfg), nil
}

// fromCore builds both logger views over one base core. The base core
// must accept all levels; the filtered view raises the floor to cfg.Level.
func fromCore(base zapcore.Core, cfg *Config) *Logger {
	filtered := zap.New(newMinLevelCore(base, cfg.Level))
	unfiltered := zap.New(base)

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		filtered = filtered.With(fields...)
		unfiltered = unfiltered.With(fields...)
	}

	always := make(map[string]struct{}, len(cfg.AlwaysEmit))
	for _, cat := range cfg.AlwaysEmit {
		always[cat] = struct{}{}
	}

	return &Logger{
		filtered:   filtered,
		unfiltered: unfiltered,
		always:     always,
		config:     cfg,
	}
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// minLevelCore applies the configured floor on top of an accept-all core.
type minLevelCore struct {
	zapcore.Core
	min zapcore.Level
}

func newMinLevelCore(core zapcore.Core, min zapcore.Level) zapcore.Core {
	return &minLevelCore{Core: core, min: min}
}

func (c *minLevelCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && c.Core.Enabled(lvl)
}

func (c *minLevelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *minLevelCore) With(fields []zap.Field) zapcore.Core {
	return &minLevelCore{Core: c.Core.With(fields), min: c.min}
}

// WithCategory returns a child logger tagged with the category field.
// Entries from the child bypass the level filter when the category is
// in the always-emit set.
func (l *Logger) WithCategory(category string) *Logger {
	field := zap.String(CategoryKey, category)
	_, bypass := l.always[category]
	return &Logger{
		filtered:   l.filtered.With(field),
		unfiltered: l.unfiltered.With(field),
		always:     l.always,
		bypass:     bypass,
		config:     l.config,
	}
}

func (l *Logger) active() *zap.Logger {
	if l.bypass {
		return l.unfiltered
	}
	return l.filtered
}

// Context-aware logging methods.

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.active().Debug(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.active().Info(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.active().Warn(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.active().Error(msg, append(ContextFields(ctx), fields...)...)
}

// Child logger creation.

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		filtered:   l.filtered.With(fields...),
		unfiltered: l.unfiltered.With(fields...),
		always:     l.always,
		bypass:     l.bypass,
		config:     l.config,
	}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{
		filtered:   l.filtered.Named(name),
		unfiltered: l.unfiltered.Named(name),
		always:     l.always,
		bypass:     l.bypass,
		config:     l.config,
	}
}

// Enabled reports whether the given level passes the normal filter.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.filtered.Core().Enabled(level)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.filtered.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Nop returns a logger that discards everything. Used as the fallback
// when a component is constructed without a logger.
func Nop() *Logger {
	return &Logger{
		filtered:   zap.NewNop(),
		unfiltered: zap.NewNop(),
		always:     map[string]struct{}{},
		config:     NewDefaultConfig(),
	}
}

// isStdoutSyncError checks for the harmless EINVAL/ENOTTY that syncing
// stdout/stderr returns on Linux.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
