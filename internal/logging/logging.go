// Package logging builds the zap loggers shared by every command.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the sugared logger passed around the app.
type Logger = *zap.SugaredLogger

// NewLoggerConfig returns the console configuration used by the commands.
func NewLoggerConfig(level zapcore.Level) zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// NewLogger returns a named console logger at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(name, level string) Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	logger, err := NewLoggerConfig(lvl).Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger.Named(name).Sugar()
}

// NewTestLogger returns a logger that writes through tb.Log.
func NewTestLogger(tb testing.TB) Logger {
	return zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel)).Sugar()
}

// NewObservedTestLogger returns a logger whose entries can be inspected.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	tee := zapcore.NewTee(core, zaptest.NewLogger(tb).Core())
	return zap.New(tee).Sugar(), logs
}
