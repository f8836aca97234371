package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger keeps the printf-style call sites used across the service on top of slog.
type Logger struct {
	base *slog.Logger
}

func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stderr, "info")
}

func NewLoggerWithWriter(w io.Writer, level string) *Logger {
	if w == nil {
		w = io.Discard
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{base: slog.New(h)}
}

// NopLogger discards everything; handy in tests.
func NopLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, "error")
}

func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.base
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
