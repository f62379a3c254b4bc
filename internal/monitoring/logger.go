// Package monitoring owns the process-wide structured logger.
//
// Components never build their own handlers. They ask for a component-scoped
// logger and emit on one of three streams: ops (actionable warnings, errors,
// data loss), diag (tuning context, Debug) and trace (per-frame telemetry).
package monitoring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug and carries per-frame telemetry.
const LevelTrace = slog.Level(-8)

var (
	mu   sync.RWMutex
	base = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// SetLogger replaces the process logger. Passing nil mutes all output.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base = l
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// NewLogger builds a logger writing to w in the given format ("text" or
// "json") at the given level name.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level name to slog.Level. Unknown names map to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
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

// Streams is a component-scoped view of the process logger.
type Streams struct {
	component string
}

// Component returns the logging streams for a named component.
func Component(name string) Streams {
	return Streams{component: name}
}

// Logger returns the underlying slog logger tagged with the component.
func (s Streams) Logger() *slog.Logger {
	return Logger().With("component", s.component)
}

// Ops logs an actionable condition at Warn.
func (s Streams) Ops(msg string, args ...any) {
	s.Logger().Warn(msg, args...)
}

// Error logs a failure at Error.
func (s Streams) Error(msg string, args ...any) {
	s.Logger().Error(msg, args...)
}

// Info logs a lifecycle event.
func (s Streams) Info(msg string, args ...any) {
	s.Logger().Info(msg, args...)
}

// Diag logs tuning and diagnostic context at Debug.
func (s Streams) Diag(msg string, args ...any) {
	s.Logger().Debug(msg, args...)
}

// Trace logs high-frequency telemetry.
func (s Streams) Trace(msg string, args ...any) {
	l := s.Logger()
	if l.Enabled(context.Background(), LevelTrace) {
		l.Log(context.Background(), LevelTrace, msg, args...)
	}
}

// Logf adapts printf-style callers (e.g. migration libraries) onto the
// component logger at Info.
func (s Streams) Logf(format string, v ...any) {
	s.Logger().Info(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

// Every gates emission of repetitive diagnostics: Allow reports true on the
// first call and on every n-th call after it.
type Every struct {
	n     uint64
	count atomic.Uint64
}

// NewEvery returns an Every that lets through one call in n. n < 1 lets
// every call through.
func NewEvery(n int) *Every {
	if n < 1 {
		n = 1
	}
	return &Every{n: uint64(n)}
}

// Allow counts a call and reports whether it should be emitted.
func (e *Every) Allow() bool {
	c := e.count.Add(1)
	return (c-1)%e.n == 0
}

// Reset restarts the count so the next call is emitted.
func (e *Every) Reset() {
	e.count.Store(0)
}
