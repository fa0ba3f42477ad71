// Package logging provides the library's built-in Logger implementations:
// an adapter over the standard log/slog package, a nop logger used when the
// application supplies none, and a helper that routes syslog-style
// priorities onto the leveled Logger interface.
package logging

import (
	"log/slog"

	"github.com/bbcarchdev/libcluster/types"
)

// SlogLogger implements types.Logger on top of a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

var _ types.Logger = (*SlogLogger)(nil)

// NewSlog wraps an existing slog.Logger.
//
// Example:
//
//	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
//	logger := logging.NewSlog(slog.New(handler))
func NewSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogDefault wraps slog.Default().
func NewSlogDefault() *SlogLogger {
	return &SlogLogger{logger: slog.Default()}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

type nopLogger struct{}

var _ types.Logger = nopLogger{}

// NewNop returns a Logger that discards everything.
func NewNop() types.Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// LogPriority dispatches a message carrying a syslog priority to the
// matching level of a leveled Logger. Notice folds into Info; everything
// more severe than an error stays an error.
func LogPriority(logger types.Logger, priority types.Priority, msg string, keysAndValues ...any) {
	switch {
	case priority <= types.PriorityErr:
		logger.Error(msg, keysAndValues...)
	case priority == types.PriorityWarning:
		logger.Warn(msg, keysAndValues...)
	case priority == types.PriorityDebug:
		logger.Debug(msg, keysAndValues...)
	default:
		logger.Info(msg, keysAndValues...)
	}
}
