// Package tglog holds the process-wide structured logger used by every
// tlsgate component, mirroring the way the teacher's caddy package
// exposes a single default *zap.Logger through a package-level accessor.
package tglog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		// fall back to a no-op logger rather than panicking at import time
		l = zap.NewNop()
	}
	defaultLogger = l
}

// Log returns the current default logger.
func Log() *zap.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDevelopment swaps in a development-mode logger (console encoding,
// debug level). Called once from the CLI entrypoint when --debug is set.
func SetDevelopment() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
	return nil
}

// Named returns a child logger scoped to the given component name, the
// way Context.Logger scopes a logger to a module in the teacher.
func Named(name string) *zap.Logger {
	return Log().Named(name)
}

// Sync flushes any buffered log entries. Safe to call on shutdown; errors
// writing to stderr/stdout are common and intentionally ignored.
func Sync() {
	_ = Log().Sync()
}
