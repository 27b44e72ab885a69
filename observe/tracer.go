package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ToolMeta describes a dispatched tool for telemetry.
type ToolMeta struct {
	ID        string // Fully qualified tool ID (namespace.name or just name)
	Namespace string
	Name      string // required
	Version   string
	Tags      []string
}

// SpanName returns "toolauth.invoke.<tool id>".
func (m ToolMeta) SpanName() string {
	return "toolauth.invoke." + m.ToolID()
}

// ToolID returns the fully qualified tool identifier.
func (m ToolMeta) ToolID() string {
	if m.ID != "" {
		return m.ID
	}
	if m.Namespace != "" {
		return m.Namespace + "." + m.Name
	}
	return m.Name
}

// Span attribute keys set on invocation spans.
const (
	AttrAuthMode     = attribute.Key("auth.mode")
	AttrAuthDecision = attribute.Key("auth.decision")
	AttrAuthReason   = attribute.Key("auth.reason")
	AttrAuthAuditID  = attribute.Key("auth.audit_id")
)

// Tracer starts and ends invocation spans.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan is best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta ToolMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a server span carrying the tool identity.
func (t *tracerImpl) StartSpan(ctx context.Context, meta ToolMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("tool.id", meta.ToolID()),
		attribute.String("tool.name", meta.Name),
	}
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("tool.namespace", meta.Namespace))
	}
	if meta.Version != "" {
		attrs = append(attrs, attribute.String("tool.version", meta.Version))
	}
	if len(meta.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("tool.tags", meta.Tags))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndSpan records err, if any, and ends the span.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AnnotateDecision records an authorization outcome on span.
func AnnotateDecision(span trace.Span, mode, decision, reason, auditID string) {
	attrs := []attribute.KeyValue{
		AttrAuthMode.String(mode),
		AttrAuthDecision.String(decision),
		AttrAuthReason.String(reason),
	}
	if auditID != "" {
		attrs = append(attrs, AttrAuthAuditID.String(auditID))
	}
	span.SetAttributes(attrs...)
}
