// Package logging constructs the *zap.Logger the engine and cmd/sievecore
// hold for structured diagnostics, mirroring the teacher's cmd/nerd bootstrap:
// a zap.Config keyed off a verbosity level, built once at startup, with a
// Sync()-on-exit discipline.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by New's level argument.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// New builds a *zap.Logger at the given level and encoding ("json" or
// "console"; anything else falls back to console, the interactive-terminal
// default). Format and level normally come from config.LoggingConfig.
func New(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if format != "json" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	atomicLevel, err := levelFromString(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = atomicLevel

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: building logger: %w", err)
	}
	return logger, nil
}

func levelFromString(level string) (zap.AtomicLevel, error) {
	switch level {
	case LevelDebug:
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	case LevelInfo, "":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	case LevelWarn:
		return zap.NewAtomicLevelAt(zapcore.WarnLevel), nil
	case LevelError:
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel), nil
	default:
		return zap.AtomicLevel{}, fmt.Errorf("logging: unknown level %q", level)
	}
}

// Sync flushes any buffered log entries, swallowing the common
// "sync /dev/stderr: invalid argument" error a terminal stderr returns on
// some platforms — the same tolerant Sync the teacher's cmd/nerd performs
// on exit.
func Sync(logger *zap.Logger) {
	if logger == nil {
		return
	}
	_ = logger.Sync()
}
