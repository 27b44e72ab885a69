package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records identity resolution and tool execution metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordDecision counts one authorization decision.
	RecordDecision(ctx context.Context, mode, decision, reason string)

	// RecordResolve records how long identity resolution took.
	RecordResolve(ctx context.Context, mode string, duration time.Duration, err error)

	// RecordExecution records a tool handler execution.
	RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	decisions    metric.Int64Counter
	resolveHist  metric.Float64Histogram
	execTotal    metric.Int64Counter
	execErrors   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var (
		m   metricsImpl
		err error
	)

	if m.decisions, err = meter.Int64Counter(
		"toolauth.decisions",
		metric.WithDescription("Authorization decisions by mode, decision and reason"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if m.resolveHist, err = meter.Float64Histogram(
		"toolauth.resolve.duration_ms",
		metric.WithDescription("Identity resolution duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.execTotal, err = meter.Int64Counter(
		"tool.exec.total",
		metric.WithDescription("Total number of tool executions"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.execErrors, err = meter.Int64Counter(
		"tool.exec.errors",
		metric.WithDescription("Total number of tool execution errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.durationHist, err = meter.Float64Histogram(
		"tool.exec.duration_ms",
		metric.WithDescription("Tool execution duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *metricsImpl) RecordDecision(ctx context.Context, mode, decision, reason string) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.mode", mode),
		attribute.String("auth.decision", decision),
		attribute.String("auth.reason", reason),
	))
}

func (m *metricsImpl) RecordResolve(ctx context.Context, mode string, duration time.Duration, err error) {
	m.resolveHist.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("auth.mode", mode),
		attribute.Bool("auth.error", err != nil),
	))
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(
		attribute.String("tool.id", meta.ToolID()),
		attribute.String("tool.name", meta.Name),
	)
	m.execTotal.Add(ctx, 1, opt)
	if err != nil {
		m.execErrors.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) RecordDecision(context.Context, string, string, string)          {}
func (nopMetrics) RecordResolve(context.Context, string, time.Duration, error)     {}
func (nopMetrics) RecordExecution(context.Context, ToolMeta, time.Duration, error) {}
