package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bbcarchdev/libcluster/types"
)

func newBufferLogger() (*SlogLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	return NewSlog(slog.New(handler)), buf
}

func TestSlogLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger()

	logger.Debug("debug message", "key", "value")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "key=value")

	buf.Reset()
	logger.Info("info message", "instance", "node1")
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "instance=node1")

	buf.Reset()
	logger.Warn("warning message")
	assert.Contains(t, buf.String(), "level=WARN")

	buf.Reset()
	logger.Error("error message", "error", "timeout")
	assert.Contains(t, buf.String(), "level=ERROR")
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Debug("nothing")
	logger.Info("nothing")
	logger.Warn("nothing")
	logger.Error("nothing")
}

func TestLogPriority(t *testing.T) {
	tests := []struct {
		priority types.Priority
		level    string
	}{
		{types.PriorityEmerg, "level=ERROR"},
		{types.PriorityAlert, "level=ERROR"},
		{types.PriorityCrit, "level=ERROR"},
		{types.PriorityErr, "level=ERROR"},
		{types.PriorityWarning, "level=WARN"},
		{types.PriorityNotice, "level=INFO"},
		{types.PriorityInfo, "level=INFO"},
		{types.PriorityDebug, "level=DEBUG"},
	}

	for _, tc := range tests {
		t.Run(tc.priority.String(), func(t *testing.T) {
			logger, buf := newBufferLogger()
			LogPriority(logger, tc.priority, "message")
			assert.Contains(t, buf.String(), tc.level)
		})
	}
}
