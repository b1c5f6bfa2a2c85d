package telemetry

import (
	"context"

	"github.com/marmos91/hostd/internal/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for runtime spans.
const (
	AttrOperation    = "hostd.operation"
	AttrModule       = "hostd.module.name"
	AttrVersion      = "hostd.module.version"
	AttrService      = "hostd.service.id"
	AttrServiceState = "hostd.service.state"
	AttrProcessState = "hostd.process.state"
	AttrForce        = "hostd.module.force"
	AttrClientIP     = "client.ip"
)

// Module returns the module name attribute.
func Module(name string) attribute.KeyValue { return attribute.String(AttrModule, name) }

// Version returns the module version attribute.
func Version(v string) attribute.KeyValue { return attribute.String(AttrVersion, v) }

// Service returns the service id attribute.
func Service(id string) attribute.KeyValue { return attribute.String(AttrService, id) }

// ServiceState returns the service state attribute.
func ServiceState(s string) attribute.KeyValue { return attribute.String(AttrServiceState, s) }

// ProcessState returns the process state attribute.
func ProcessState(s string) attribute.KeyValue { return attribute.String(AttrProcessState, s) }

// Force returns the forced-registration attribute.
func Force(f bool) attribute.KeyValue { return attribute.Bool(AttrForce, f) }

// ClientIP returns the client address attribute.
func ClientIP(ip string) attribute.KeyValue { return attribute.String(AttrClientIP, ip) }

// StartOperation opens a span named "hostd.<op>" and copies its ids into
// the logger context so *Ctx log lines correlate with the trace.
func StartOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttrOperation, op))
	ctx, span := StartSpan(ctx, "hostd."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	ctx = logger.WithOperation(ctx, op)
	if IsEnabled() {
		ctx = logger.WithTrace(ctx, TraceID(ctx), SpanID(ctx))
	}
	return ctx, span
}
