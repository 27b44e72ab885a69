package observe

import (
	"context"
	"time"
)

// ExecuteFunc is the signature of a traced invocation.
type ExecuteFunc func(ctx context.Context, tool ToolMeta, input any) (any, error)

// Classifier maps an invocation error to a short outcome code such as
// "forbidden". An empty code marks an internal failure.
type Classifier func(err error) string

// Middleware wraps an invocation with a span, execution metrics and one log
// line.
//
// Contract:
//   - Concurrency: Wrap returns a function safe for concurrent use.
//   - Context: the span is attached to the context passed to fn.
//   - Errors: errors from fn are recorded and returned unchanged.
type Middleware struct {
	tracer   Tracer
	metrics  Metrics
	logger   Logger
	classify Classifier
}

// NewMiddleware creates a Middleware. A nil classifier logs every error at
// error level.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger, classify Classifier) *Middleware {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:   tracer,
		metrics:  metrics,
		logger:   logger,
		classify: classify,
	}
}

// MiddlewareFromObserver builds a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer, classify Classifier) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger(), classify), nil
}

// Metrics returns the metrics recorder used by the middleware.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Wrap instruments fn.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, tool ToolMeta, input any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, tool)
		start := time.Now()

		result, err := fn(ctx, tool, input)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, tool, duration, err)

		log := m.logger.WithTool(tool)
		fields := []Field{{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000}}
		switch {
		case err == nil:
			log.Info(ctx, "tool invocation completed", fields...)
		case m.classify != nil && m.classify(err) != "":
			fields = append(fields, Field{Key: "denial_code", Value: m.classify(err)}, Field{Key: "error", Value: err.Error()})
			log.Warn(ctx, "tool invocation denied", fields...)
		default:
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			log.Error(ctx, "tool invocation failed", fields...)
		}

		return result, err
	}
}
