// Package logger holds the process-wide zap logger.
package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.SugaredLogger]

// Init builds the process logger. development switches to the console
// encoder with colored levels; otherwise JSON lines are written to stderr.
func Init(level string, development bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("error building logger: %w", err)
	}
	current.Store(l.Sugar())
	return nil
}

// L returns the process logger. Before Init it is a no-op logger.
func L() *zap.SugaredLogger {
	if l := current.Load(); l != nil {
		return l
	}
	return zap.NewNop().Sugar()
}

// Set replaces the process logger, mainly for tests.
func Set(l *zap.Logger) {
	current.Store(l.Sugar())
}

// Sync flushes buffered entries.
func Sync() {
	_ = L().Sync()
}
