package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries request-scoped fields that the *Ctx functions prepend
// to every record.
type LogContext struct {
	RequestID string
	TraceID   string
	SpanID    string
	Operation string // orchestrator operation, e.g. register_module
	Module    string
	Service   string // ServiceID string form
	ClientIP  string
	StartTime time.Time
}

// WithContext stores lc in ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewLogContext starts a context for a request from clientIP.
func NewLogContext(requestID, clientIP string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

func (lc *LogContext) clone() *LogContext {
	c := *lc
	return &c
}

// WithOperation returns ctx with the operation name set on a copy of its
// LogContext. A context without one gets a fresh LogContext.
func WithOperation(ctx context.Context, op string) context.Context {
	return update(ctx, func(lc *LogContext) { lc.Operation = op })
}

// WithModule returns ctx annotated with a module name.
func WithModule(ctx context.Context, module string) context.Context {
	return update(ctx, func(lc *LogContext) { lc.Module = module })
}

// WithService returns ctx annotated with a service id.
func WithService(ctx context.Context, service string) context.Context {
	return update(ctx, func(lc *LogContext) { lc.Service = service })
}

// WithTrace returns ctx annotated with trace identifiers.
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	return update(ctx, func(lc *LogContext) {
		lc.TraceID = traceID
		lc.SpanID = spanID
	})
}

func update(ctx context.Context, fn func(*LogContext)) context.Context {
	var lc *LogContext
	if cur := FromContext(ctx); cur != nil {
		lc = cur.clone()
	} else {
		lc = &LogContext{StartTime: time.Now()}
	}
	fn(lc)
	return WithContext(ctx, lc)
}

// DurationMs returns the milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Since(lc.StartTime)
}

func (lc *LogContext) fields() []any {
	out := make([]any, 0, 14)
	add := func(k, v string) {
		if v != "" {
			out = append(out, k, v)
		}
	}
	add(KeyRequestID, lc.RequestID)
	add(KeyTraceID, lc.TraceID)
	add(KeySpanID, lc.SpanID)
	add(KeyOperation, lc.Operation)
	add(KeyModule, lc.Module)
	add(KeyService, lc.Service)
	add(KeyClientIP, lc.ClientIP)
	return out
}
