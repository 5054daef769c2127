// Package weblog provides the process-wide structured logger used by every
// other package in this module. It mirrors Caddy's own Log() convention
// (see logging.go in the teacher tree) but drops the JSON module-registry
// and log-rolling machinery, which has no role in this spec's scope.
package weblog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger = l
}

// Log returns the process-wide logger.
func Log() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetDevelopment swaps in a human-readable console logger, used by the CLI
// when run interactively instead of under a supervisor.
func SetDevelopment() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = Log().Sync()
}
