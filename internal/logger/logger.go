// Package logger is a thin structured-logging layer over log/slog.
// All helpers write through DefaultLogger, which is configured from LOG_LEVEL
// at start-up and may be replaced with SetLevel or SetOutput.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stderr
	format           = "text"

	// DefaultLogger is the process-wide logger.
	DefaultLogger *slog.Logger
)

func init() {
	if f := strings.ToLower(os.Getenv("LOG_FORMAT")); f == "json" {
		format = f
	}
	DefaultLogger = build(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a textual level to slog. Unknown values give info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func build(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// SetLevel replaces the logger with one at the given level.
func SetLevel(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	DefaultLogger = build(level)
}

// SetVerbose toggles debug output.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	DefaultLogger = build(level)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return DefaultLogger
}

func Info(msg string, args ...any)  { current().Info(msg, args...) }
func Debug(msg string, args ...any) { current().Debug(msg, args...) }
func Warn(msg string, args ...any)  { current().Warn(msg, args...) }
func Error(msg string, args ...any) { current().Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, args...)
}
