// Package logger is hostd's process-wide structured logger.
//
// It wraps log/slog behind package-level functions so that every package
// logs the same way without threading a logger through constructors.
// Output format, level and destination are switched at runtime by Init.
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

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	level = new(slog.LevelVar)

	mu       sync.RWMutex
	format   = "text"
	output   io.Writer = os.Stderr
	useColor bool
	closer   io.Closer
	slogger  *slog.Logger
)

func init() {
	useColor = isTerminal(os.Stderr.Fd())
	rebuild()
}

// rebuild swaps the handler. Callers must not hold mu.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, color, c, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		mu.Lock()
		if closer != nil {
			_ = closer.Close()
		}
		output, useColor, closer = w, color, c
		mu.Unlock()
	}
	if cfg.Format != "" {
		if err := setFormat(cfg.Format); err != nil {
			return err
		}
	}
	if cfg.Level != "" {
		if err := SetLevel(cfg.Level); err != nil {
			return err
		}
	}
	rebuild()
	return nil
}

func openOutput(dest string) (io.Writer, bool, io.Closer, error) {
	switch strings.ToLower(dest) {
	case "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil, nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to open log file %q: %w", dest, err)
	}
	return f, false, f, nil
}

// InitWithWriter sends output to w. Used by tests and by commands that
// capture logs.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	mu.Lock()
	output, useColor, closer = w, enableColor, nil
	mu.Unlock()
	if fmtName != "" {
		_ = setFormat(fmtName)
	}
	if lvl != "" {
		_ = SetLevel(lvl)
	}
	rebuild()
}

// SetLevel changes the minimum level without rebuilding the handler.
func SetLevel(name string) error {
	switch strings.ToUpper(name) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "INFO":
		level.Set(slog.LevelInfo)
	case "WARN", "WARNING":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("invalid log level %q", name)
	}
	return nil
}

func setFormat(name string) error {
	name = strings.ToLower(name)
	if name != "text" && name != "json" {
		return fmt.Errorf("invalid log format %q", name)
	}
	mu.Lock()
	format = name
	mu.Unlock()
	return nil
}

// Enabled reports whether lvl would be emitted.
func Enabled(lvl slog.Level) bool {
	return lvl >= level.Level()
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level. Usage: Debug("msg", "key", value, ...)
func Debug(msg string, args ...any) { logAt(context.Background(), slog.LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...any) { logAt(context.Background(), slog.LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logAt(context.Background(), slog.LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...any) { logAt(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs at debug level, prefixing the fields of the LogContext
// stored in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, withContextFields(ctx, args))
}

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, withContextFields(ctx, args))
}

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, withContextFields(ctx, args))
}

// ErrorCtx logs at error level with context fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelError, msg, withContextFields(ctx, args))
}

func logAt(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if !Enabled(lvl) {
		return
	}
	get().Log(ctx, lvl, msg, args...)
}

func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	return append(lc.fields(), args...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Since returns the milliseconds elapsed since start.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// IsTerminal reports whether fd is attached to a terminal.
func IsTerminal(fd uintptr) bool {
	return isTerminal(fd)
}
