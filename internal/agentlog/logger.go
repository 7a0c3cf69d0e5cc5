// Package agentlog provides structured logging for the agent. It wraps
// log/slog with a handler that emits the line-delimited JSON wire format
// consumed by downstream log shippers: one object per line with fixed
// field names (timestamp, logLevel, threadName, moduleName, message, and
// optional exceptionMessage/stacktrace).
package agentlog

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog for structured logging, scoped to a module name.
type Logger struct {
	*slog.Logger
}

// New creates a Logger that writes the wire JSON schema to stdout.
func New(jsonMode bool) *Logger {
	return NewWithWriter(os.Stdout, jsonMode)
}

// NewWithWriter creates a Logger writing to w — used by tests that want
// to capture log output.
func NewWithWriter(w io.Writer, jsonMode bool) *Logger {
	var handler slog.Handler
	if jsonMode {
		handler = newWireHandler(w, slog.LevelDebug)
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return &Logger{slog.New(handler)}
}

// Module returns a child logger scoped to the given component name.
// The name is carried as the "moduleName" field in the wire schema.
func (l *Logger) Module(name string) *Logger {
	return &Logger{l.Logger.With("module", name)}
}

// Thread returns a child logger scoped to a goroutine/thread label.
// The label is carried as the "threadName" field in the wire schema.
func (l *Logger) Thread(name string) *Logger {
	return &Logger{l.Logger.With("thread", name)}
}
