package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonwraymond/toolauth/audit"
	"github.com/jonwraymond/toolauth/observe"
)

// Requirement is the capability a tool declares. The zero value is invalid
// and always denies.
type Requirement struct {
	anonymous bool
	roles     []string
}

// AllowAnonymous returns a requirement every caller satisfies.
func AllowAnonymous() Requirement {
	return Requirement{anonymous: true}
}

// RequireAnyRole returns a requirement satisfied by holding at least one of
// roles. An empty role set yields an invalid requirement.
func RequireAnyRole(roles ...string) Requirement {
	return Requirement{roles: normalizeRoles(roles)}
}

// IsAnonymous reports whether the requirement admits unauthenticated callers.
func (r Requirement) IsAnonymous() bool {
	return r.anonymous
}

// Roles returns a copy of the acceptable roles.
func (r Requirement) Roles() []string {
	return append([]string(nil), r.roles...)
}

// Validate reports whether the requirement can ever be satisfied.
func (r Requirement) Validate() error {
	if !r.anonymous && len(r.roles) == 0 {
		return ErrInvalidRequirement
	}
	return nil
}

// String renders the requirement for logs.
func (r Requirement) String() string {
	switch {
	case r.anonymous:
		return "anonymous"
	case len(r.roles) == 0:
		return "invalid"
	default:
		return "any_of(" + strings.Join(r.roles, ",") + ")"
	}
}

// Authorize decides whether ac satisfies req:
//  1. AllowAnonymous allows unconditionally.
//  2. An unauthenticated caller is denied with ReasonNotAuthenticated.
//  3. A caller holding none of the roles is denied with ReasonInsufficientRole.
//  4. Otherwise the call is allowed.
//
// Role comparison is case-insensitive. Any error is an *AuthorizationError.
func Authorize(ac AuthenticationContext, req Requirement) error {
	subject, _ := ac.SubjectID()
	if err := req.Validate(); err != nil {
		return &AuthorizationError{Subject: subject, Reason: ReasonInvalidRequirement, Cause: err}
	}
	if req.anonymous {
		return nil
	}
	if !ac.IsAuthenticated() {
		return &AuthorizationError{Required: req.Roles(), Reason: ReasonNotAuthenticated}
	}
	if !ac.HasAnyRole(req.roles...) {
		return &AuthorizationError{Subject: subject, Required: req.Roles(), Reason: ReasonInsufficientRole}
	}
	return nil
}

// Gate applies Authorize and records every decision.
//
// Contract:
//   - Concurrency: safe for concurrent use; the gate holds no per-call state.
//   - Audit: an event is emitted for every decision. When a denial cannot be
//     recorded the failure is logged at error level and the denial stands.
//     A failed allow event is logged and does not block the call.
type Gate struct {
	mode    Mode
	sink    audit.Sink
	logger  observe.Logger
	metrics observe.Metrics
	now     func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger used for emission failures.
func WithGateLogger(l observe.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithGateMetrics records every decision.
func WithGateMetrics(m observe.Metrics) GateOption {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithGateClock overrides the event timestamp source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate creates a gate for the active mode. A nil sink drops events.
func NewGate(mode Mode, sink audit.Sink, opts ...GateOption) *Gate {
	if sink == nil {
		sink = audit.SinkFunc(func(context.Context, audit.Event) error { return nil })
	}
	g := &Gate{
		mode:    mode,
		sink:    sink,
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize decides whether ac may invoke tool and records the decision.
func (g *Gate) Authorize(ctx context.Context, ac AuthenticationContext, tool string, req Requirement) error {
	err := Authorize(ac, req)

	var reason string
	switch {
	case err != nil:
		var ae *AuthorizationError
		if errors.As(err, &ae) {
			ae.Tool = tool
			reason = ae.Code()
		}
	case req.IsAnonymous():
		reason = audit.ReasonAnonymousAllowed
	default:
		reason = audit.ReasonGranted
	}

	g.record(ctx, g.event(ac, tool, err == nil, reason))
	return err
}

// Deny records a denial decided before the gate ran, such as an unknown tool
// or a failed authentication.
func (g *Gate) Deny(ctx context.Context, ac AuthenticationContext, tool, reason string) {
	g.record(ctx, g.event(ac, tool, false, reason))
}

func (g *Gate) event(ac AuthenticationContext, tool string, allowed bool, reason string) audit.Event {
	ev := audit.Event{
		Timestamp:  g.now().UTC(),
		AuditID:    ac.AuditID(),
		Mode:       g.mode.String(),
		Decision:   audit.DecisionDeny,
		ReasonCode: reason,
		ToolName:   tool,
	}
	if allowed {
		ev.Decision = audit.DecisionAllow
	}
	if subject, ok := ac.SubjectID(); ok {
		ev.SubjectID = &subject
	}
	return ev
}

func (g *Gate) record(ctx context.Context, ev audit.Event) {
	g.metrics.RecordDecision(ctx, ev.Mode, string(ev.Decision), ev.ReasonCode)

	err := g.sink.Emit(ctx, ev)
	if err == nil {
		return
	}
	fields := append(ev.Fields(), observe.Field{Key: "error", Value: err})
	if ev.Decision == audit.DecisionDeny {
		g.logger.Error(ctx, "audit event for denial not recorded", fields...)
		return
	}
	g.logger.Warn(ctx, "audit event for allow not recorded", fields...)
}
