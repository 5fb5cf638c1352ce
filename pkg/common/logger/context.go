package logger

import (
	"context"
	"sync"
)

// LoggerContext wraps a Logger with mutable attributes that accumulate over
// the life of a single operation. It lets long-running handlers enrich their
// log output as more information becomes available (e.g. once a connection
// identifies itself) without rebuilding the logger at every step.
type LoggerContext struct {
	mu     sync.RWMutex
	logger *Logger
}

// NewLoggerContext creates a new LoggerContext wrapping the provided logger.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add appends attributes to every subsequent log record.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.logger = lc.logger.With(args...)
}

func (lc *LoggerContext) current() *Logger {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.logger
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.current().Debugc(ctx, 4, msg, args...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.current().Infoc(ctx, 4, msg, args...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.current().Warnc(ctx, 4, msg, args...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.current().Errorc(ctx, 4, msg, args...)
}
