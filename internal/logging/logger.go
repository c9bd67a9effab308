// Package logging provides the process-wide structured logger used by every
// Lavis component. Each subsystem gets its own named child logger so log
// lines can be filtered by component without a custom category system.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	root     *zap.Logger
	initOnce sync.Once
)

// Init builds the process-wide root logger. Safe to call multiple times;
// only the first call takes effect. Debug mode is enabled by LAVIS_DEBUG=1.
func Init() *zap.Logger {
	initOnce.Do(func() {
		var cfg zap.Config
		if os.Getenv("LAVIS_DEBUG") == "1" {
			cfg = zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			cfg = zap.NewProductionConfig()
		}
		cfg.DisableStacktrace = true
		logger, err := cfg.Build()
		if err != nil {
			logger = zap.NewNop()
		}
		root = logger
	})
	return root
}

// Named returns a child logger scoped to the given component name. Init must
// have been called first; if it wasn't, Named initializes it lazily.
func Named(component string) *zap.Logger {
	if root == nil {
		Init()
	}
	return root.Named(component)
}

// Sync flushes any buffered log entries. Call on process shutdown.
func Sync() {
	if root != nil {
		_ = root.Sync()
	}
}
