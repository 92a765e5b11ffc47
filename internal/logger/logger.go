// Package logger is the process-wide structured logger.
//
// It wraps log/slog with a package-level API so that every component logs
// through the same handler, and lets the handler be reconfigured at runtime
// (level, text or JSON, destination). Context-aware variants pull connection
// and trace identifiers from a LogContext attached to the context.
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

// Config selects level, format and destination.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	level = new(slog.LevelVar)

	mu      sync.RWMutex
	format  = "text"
	out     io.Writer = os.Stdout
	color   bool
	closer  io.Closer
	current *slog.Logger
)

func init() {
	color = isTerminal(os.Stdout.Fd())
	rebuild()
}

// rebuild swaps in a new handler. Callers must not hold mu.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = NewColorTextHandler(out, opts, color)
	}
	current = slog.New(h)
}

// Init applies cfg. Empty fields leave the current setting unchanged.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, c, useColor, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		mu.Lock()
		if closer != nil {
			_ = closer.Close()
		}
		out, closer, color = w, c, useColor
		mu.Unlock()
	}

	if cfg.Level != "" {
		if err := SetLevel(cfg.Level); err != nil {
			return err
		}
	}
	if cfg.Format != "" {
		if err := SetFormat(cfg.Format); err != nil {
			return err
		}
	}

	rebuild()
	return nil
}

func openOutput(dest string) (io.Writer, io.Closer, bool, error) {
	switch strings.ToLower(dest) {
	case "stdout":
		return os.Stdout, nil, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, nil, isTerminal(os.Stderr.Fd()), nil
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open log file %q: %w", dest, err)
	}
	return f, f, false, nil
}

// InitWithWriter sends output to w. Used by tests.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	mu.Lock()
	out, closer, color = w, nil, enableColor
	mu.Unlock()

	if lvl != "" {
		_ = SetLevel(lvl)
	}
	if fmtName != "" {
		_ = SetFormat(fmtName)
	}
	rebuild()
}

// SetLevel changes the minimum level. The handler picks it up immediately.
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
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// SetFormat switches between "text" and "json".
func SetFormat(name string) error {
	name = strings.ToLower(name)
	if name != "text" && name != "json" {
		return fmt.Errorf("unknown log format %q", name)
	}
	mu.Lock()
	format = name
	mu.Unlock()
	rebuild()
	return nil
}

// Logger returns the current logger, for code that wants a *slog.Logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Enabled reports whether records at l would be emitted.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// DebugCtx logs at debug level, prefixed with the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(slog.LevelDebug) {
		return
	}
	Logger().Debug(msg, withContext(ctx, args)...)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(slog.LevelInfo) {
		return
	}
	Logger().Info(msg, withContext(ctx, args)...)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(slog.LevelWarn) {
		return
	}
	Logger().Warn(msg, withContext(ctx, args)...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	Logger().Error(msg, withContext(ctx, args)...)
}

func withContext(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		fields = append(fields, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		fields = append(fields, KeySpanID, lc.SpanID)
	}
	if lc.ConnectionID != "" {
		fields = append(fields, KeyConnectionID, lc.ConnectionID)
	}
	if lc.Client != "" {
		fields = append(fields, KeyClient, lc.Client)
	}
	if lc.Worker >= 0 {
		fields = append(fields, KeyWorker, lc.Worker)
	}
	return append(fields, args...)
}

// With returns a logger with the given attributes bound.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Since returns the elapsed time since start in milliseconds.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Infof and friends format msg with fmt.Sprintf.
func Infof(tmpl string, v ...any) {
	if Enabled(slog.LevelInfo) {
		Logger().Info(fmt.Sprintf(tmpl, v...))
	}
}

func Debugf(tmpl string, v ...any) {
	if Enabled(slog.LevelDebug) {
		Logger().Debug(fmt.Sprintf(tmpl, v...))
	}
}

func Warnf(tmpl string, v ...any) {
	if Enabled(slog.LevelWarn) {
		Logger().Warn(fmt.Sprintf(tmpl, v...))
	}
}

func Errorf(tmpl string, v ...any) {
	Logger().Error(fmt.Sprintf(tmpl, v...))
}
