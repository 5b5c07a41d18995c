package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once

	// level is shared by every handler created through this package.
	level = new(slog.LevelVar)
)

// Init installs the ledger handler as the process-wide slog default.
func Init() {
	once.Do(func() {
		handler := NewHandler(os.Stdout)
		defaultLogger = slog.New(handler)
		slog.SetDefault(defaultLogger)
	})
}

// SetLevel sets the minimum level from a name such as "debug" or "warn".
// Unknown names leave the level unchanged and return an error.
func SetLevel(name string) error {
	switch strings.ToLower(name) {
	case "debug", "dbg":
		level.Set(slog.LevelDebug)
	case "info", "inf", "":
		level.Set(slog.LevelInfo)
	case "warn", "wrn", "warning":
		level.Set(slog.LevelWarn)
	case "error", "err":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}

	return nil
}

// Handler writes one line per record with millisecond timestamps.
// Attributes bound through WithAttrs are printed before the record's own.
type Handler struct {
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
	group string
}

// NewHandler creates a new handler writing to the given writer.
func NewHandler(out io.Writer) *Handler {
	return &Handler{out: out, mu: &sync.Mutex{}}
}

// Enabled reports whether the record level passes the package level.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	// Format: 2024-01-15 14:30:45.123 [INF] message key=value
	ts := r.Time.Format("2006-01-02 15:04:05.000")

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.out, "%s [%s] %s", ts, levelString(r.Level), r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
	}

	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(a)
		return true
	})

	fmt.Fprintln(h.out)

	return nil
}

// writeAttr prints a single key=value pair, prefixed by the handler group.
func (h *Handler) writeAttr(a slog.Attr) {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}

	fmt.Fprintf(h.out, " %s=%v", key, a.Value)
}

// WithAttrs returns a handler that prints attrs on every record.
// Keys are qualified with the group active at binding time.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)

	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}

	return &next
}

// WithGroup returns a handler that prefixes later keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name

	return &next
}

// levelString returns a short string for the log level.
func levelString(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "DBG"
	case slog.LevelInfo:
		return "INF"
	case slog.LevelWarn:
		return "WRN"
	case slog.LevelError:
		return "ERR"
	default:
		return "???"
	}
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// Timed returns elapsed time since start for logging duration.
func Timed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
