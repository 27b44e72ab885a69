package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/toolauth/observe"
)

// Decision is the outcome recorded for an invocation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Reason codes shared by authentication and authorization decisions.
const (
	ReasonGranted          = "granted"
	ReasonAnonymousAllowed = "anonymous_allowed"
	ReasonUnknownTool      = "unknown_tool"
)

// Event is one authorization decision.
type Event struct {
	Timestamp time.Time

	// SubjectID is nil when the caller was not authenticated.
	SubjectID *string

	// AuditID is the subject's audit id, if one is known.
	AuditID string

	Mode       string
	Decision   Decision
	ReasonCode string
	ToolName   string
}

// Subject returns the subject id or "" when absent.
func (e Event) Subject() string {
	if e.SubjectID == nil {
		return ""
	}
	return *e.SubjectID
}

// Fields renders the event as structured log fields.
func (e Event) Fields() []observe.Field {
	var subject any
	if e.SubjectID != nil {
		subject = *e.SubjectID
	}
	fields := []observe.Field{
		{Key: "timestamp", Value: e.Timestamp.UTC().Format(time.RFC3339Nano)},
		{Key: "subject_id", Value: subject},
		{Key: "mode", Value: e.Mode},
		{Key: "decision", Value: string(e.Decision)},
		{Key: "reason_code", Value: e.ReasonCode},
		{Key: "tool_name", Value: e.ToolName},
	}
	if e.AuditID != "" {
		fields = append(fields, observe.Field{Key: "audit_id", Value: e.AuditID})
	}
	return fields
}

// Sink accepts audit events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Emit returns an error when the event could not be recorded.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts an ordinary function to a Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Emit calls the function.
func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LoggerSink writes each event as one structured log line.
type LoggerSink struct {
	logger observe.Logger
}

// NewLoggerSink creates a sink over logger.
func NewLoggerSink(logger observe.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Emit logs the event. Denials are logged at warn level.
func (s *LoggerSink) Emit(ctx context.Context, event Event) error {
	if s.logger == nil {
		return errors.New("audit: logger sink has no logger")
	}
	if event.Decision == DecisionDeny {
		s.logger.Warn(ctx, "authorization denied", event.Fields()...)
	} else {
		s.logger.Info(ctx, "authorization allowed", event.Fields()...)
	}
	return nil
}

// MultiSink fans events out to several sinks. Every sink is tried; errors are joined.
type MultiSink []Sink

// Emit sends the event to every sink.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends the event.
func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Ensure sinks implement Sink
var (
	_ Sink = (*LoggerSink)(nil)
	_ Sink = MultiSink(nil)
	_ Sink = (*Recorder)(nil)
	_ Sink = SinkFunc(nil)
)
