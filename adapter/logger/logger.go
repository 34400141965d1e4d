// Package logger contains the default [domain.Logger] implementation, a thin
// wrapper around [slog.Logger].
package logger

import (
	"io"
	"log/slog"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// ScopeKey is the attribute added by [Logger.Scope].
const ScopeKey = "scope"

// Logger implements domain.Logger.
type Logger struct {
	l *slog.Logger
}

// NewLogger returns a [domain.Logger] writing through l. A nil l uses
// [slog.Default].
func NewLogger(l *slog.Logger) domain.Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{l: l}
}

// NewTextLogger returns a [domain.Logger] writing text records with at least
// the given level to w.
func NewTextLogger(w io.Writer, level slog.Level) domain.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{l: slog.New(h)}
}

// NewJSONLogger returns a [domain.Logger] writing JSON records with at least
// the given level to w.
func NewJSONLogger(w io.Writer, level slog.Level) domain.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{l: slog.New(h)}
}

// ParseLevel reads DEBUG, INFO, WARN or ERROR. Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug implements domain.Logger.
func (l *Logger) Debug(msg string, args ...any) { l.l.Debug(msg, args...) }

// Info implements domain.Logger.
func (l *Logger) Info(msg string, args ...any) { l.l.Info(msg, args...) }

// Warn implements domain.Logger.
func (l *Logger) Warn(msg string, args ...any) { l.l.Warn(msg, args...) }

// Error implements domain.Logger.
func (l *Logger) Error(msg string, args ...any) { l.l.Error(msg, args...) }

// Scope implements domain.Logger. Nested scopes are joined with dots.
func (l *Logger) Scope(name string) domain.Logger {
	return &scoped{Logger: Logger{l: l.l}, name: name}
}

type scoped struct {
	Logger
	name string
}

func (s *scoped) Debug(msg string, args ...any) { s.l.Debug(msg, s.args(args)...) }
func (s *scoped) Info(msg string, args ...any)  { s.l.Info(msg, s.args(args)...) }
func (s *scoped) Warn(msg string, args ...any)  { s.l.Warn(msg, s.args(args)...) }
func (s *scoped) Error(msg string, args ...any) { s.l.Error(msg, s.args(args)...) }

func (s *scoped) args(args []any) []any {
	return append([]any{ScopeKey, s.name}, args...)
}

func (s *scoped) Scope(name string) domain.Logger {
	return &scoped{Logger: s.Logger, name: s.name + "." + name}
}

// Nop returns a [domain.Logger] that discards everything.
func Nop() domain.Logger {
	return nop{}
}

type nop struct{}

func (nop) Debug(string, ...any)           {}
func (nop) Info(string, ...any)            {}
func (nop) Warn(string, ...any)            {}
func (nop) Error(string, ...any)           {}
func (n nop) Scope(string) domain.Logger { return n }
