// Package plog is the process-level console logger for modsync. It wraps
// log/slog with a split handler: routine output (INFO and below) goes to
// stdout, problems (WARN and above) go to stderr. This is operator-facing
// diagnostics only; the auditable sync journal lives in pkg/journal and is
// carried explicitly through the orchestrator.
package plog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// splitHandler routes records to one of two handlers based on severity.
type splitHandler struct {
	out slog.Handler // INFO and below
	err slog.Handler // WARN and above
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.out.Enabled(ctx, level) || h.err.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.err.Handle(ctx, r)
	}
	return h.out.Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{out: h.out.WithAttrs(attrs), err: h.err.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{out: h.out.WithGroup(name), err: h.err.WithGroup(name)}
}

var (
	defaultLogger atomic.Pointer[slog.Logger]
	minLevel      = &slog.LevelVar{} // defaults to LevelInfo
	quietMode     atomic.Bool
)

func init() {
	defaultLogger.Store(newSplitLogger(os.Stdout, os.Stderr))
}

func newSplitLogger(out, err io.Writer) *slog.Logger {
	return slog.New(&splitHandler{
		out: slog.NewTextHandler(out, &slog.HandlerOptions{Level: minLevel}),
		err: slog.NewTextHandler(err, &slog.HandlerOptions{Level: slog.LevelWarn}),
	})
}

// SetOutput redirects all log output to a single writer, primarily for tests.
// Quiet mode is reset so the writer observes every level.
func SetOutput(w io.Writer) {
	quietMode.Store(false)
	defaultLogger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel})))
}

// SetLevel adjusts the minimum level for routine output. WARN and above are
// always emitted.
func SetLevel(l slog.Level) {
	minLevel.Set(l)
}

// SetLevelName adjusts the minimum level from its string form.
func SetLevelName(name string) error {
	switch strings.ToLower(name) {
	case "debug":
		minLevel.Set(slog.LevelDebug)
	case "info", "":
		minLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		minLevel.Set(slog.LevelWarn)
	case "error":
		minLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// SetQuiet suppresses INFO and DEBUG output. Warnings and errors still print.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet reports whether quiet mode is active.
func IsQuiet() bool {
	return quietMode.Load()
}

// Debug logs a debug-level message.
func Debug(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Debug(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
