package envflash

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Logger receives diagnostics. It never affects control flow.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts l. Records point at the port method that logged them,
// not at the adapter.
func NewSlogLogger(l *slog.Logger) Logger {
	return slogLogger{l: l.With("component", "flash")}
}

func (s slogLogger) Debug(msg string, kv ...any) { s.log(slog.LevelDebug, msg, kv) }
func (s slogLogger) Info(msg string, kv ...any)  { s.log(slog.LevelInfo, msg, kv) }

func (s slogLogger) log(level slog.Level, msg string, kv []any) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log, Debug/Info
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(kv...)
	_ = s.l.Handler().Handle(ctx, r)
}

// LogConfig selects the slog handler built by NewLogger.
type LogConfig struct {
	Level  string    // "debug", "info", "warn" or "error"; default info
	Format string    // "json" or "text"; default text
	Output io.Writer // default os.Stderr
}

// NewLogger builds a slog logger. Debug level adds the source location,
// which is where the port's debug records come from.
func NewLogger(c LogConfig) *slog.Logger {
	w := c.Output
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	var h slog.Handler
	if c.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
