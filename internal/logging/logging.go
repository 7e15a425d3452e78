// Package logging bootstraps the application loggers. Structured JSON goes
// to stdout for log collectors; services get scoped child loggers.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu               sync.RWMutex
	structuredLogger *slog.Logger
)

// Init initializes the logging system at the given minimum level.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	structuredLogger = slog.New(handler)
	slog.SetDefault(structuredLogger)
}

// ForService returns a logger scoped to a named service. Safe to call before
// Init; falls back to the process default logger.
func ForService(service string) *slog.Logger {
	mu.RLock()
	l := structuredLogger
	mu.RUnlock()
	if l == nil {
		l = slog.Default()
	}
	return l.With("service", service)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
