// Package log provides a thin slog wrapper that stamps every record with the
// emitting component.
package log

import (
	"log/slog"
	"os"
)

type Logger struct {
	*slog.Logger
}

// New builds a text logger writing to stdout. Component is attached to every
// record so multi-binary deployments can tell the emitters apart.
func New(component string, level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler).With("component", component)}
}

// WithComponent returns a child logger for a subsystem.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component)}
}

// With returns a child logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
