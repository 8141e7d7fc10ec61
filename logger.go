package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Logger is the logging surface used across the package. Arguments after the
// message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args) }

func (defLogger) print(level, msg string, args []any) {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	fmt.Println(b.String())
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l, falling back to slog.Default when l is nil.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Log(context.Background(), slog.LevelDebug, msg, args...) }
func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Log(context.Background(), slog.LevelInfo, msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Log(context.Background(), slog.LevelWarn, msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Log(context.Background(), slog.LevelError, msg, args...) }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
