package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries per-connection fields injected by the *Ctx functions.
type LogContext struct {
	TraceID      string
	SpanID       string
	ConnectionID string
	Client       string // remote address
	Worker       int    // worker slot, -1 when unknown
	StartTime    time.Time
}

// NewLogContext starts a LogContext for a connection.
func NewLogContext(connectionID, client string, worker int) *LogContext {
	return &LogContext{
		ConnectionID: connectionID,
		Client:       client,
		Worker:       worker,
		StartTime:    time.Now(),
	}
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext attached to ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// WithTrace returns a copy carrying the given trace identifiers.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.TraceID, c.SpanID = traceID, spanID
	return &c
}

// Age is the time since StartTime in milliseconds.
func (lc *LogContext) Age() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Since(lc.StartTime)
}
