// Package logger provides a process-wide structured logger for localghostd.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Initialize sets up the process-wide logger based on environment settings.
// UNSTRUCTURED_LOGS=false selects JSON output; any other value (including
// unset) keeps the human-readable text handler.
func Initialize() {
	level := slog.LevelInfo
	if v, ok := os.LookupEnv("LOCALGHOST_LOG_LEVEL"); ok {
		if parsed, err := parseLevel(v); err == nil {
			level = parsed
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if unstructuredLogs() {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	singleton.Store(slog.New(handler))
}

func unstructuredLogs() bool {
	v, ok := os.LookupEnv("UNSTRUCTURED_LOGS")
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

func current() *slog.Logger {
	return singleton.Load()
}

// With returns a logger derived from the singleton with the given attributes,
// for call sites that want a scoped child logger (e.g. per-request).
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { current().Debug(fmt.Sprintf(format, args...)) }

// Info logs at info level.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { current().Info(fmt.Sprintf(format, args...)) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { current().Warn(fmt.Sprintf(format, args...)) }

// Error logs at error level.
func Error(msg string, args ...any) { current().Error(msg, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { current().Error(fmt.Sprintf(format, args...)) }

// Fatalf logs a formatted message at error level and exits the process.
func Fatalf(format string, args ...any) {
	current().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// InfoContext logs at info level, attaching any attrs carried on ctx by the caller.
func InfoContext(ctx context.Context, msg string, args ...any) { current().InfoContext(ctx, msg, args...) }
