package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/toolauth/audit"
	"github.com/jonwraymond/toolauth/auth"
	"github.com/jonwraymond/toolauth/observe"
)

// Caller-facing denial codes returned by DenialCode.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

// DenialCode maps an Invoke error to the code a client may see. Anything
// that is not a lookup, authentication or authorization failure is internal.
// A nil error has no code.
func DenialCode(err error) string {
	if err == nil {
		return ""
	}

	var authzErr *auth.AuthorizationError
	switch {
	case errors.Is(err, ErrUnknownTool):
		return CodeNotFound
	case errors.Is(err, auth.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.As(err, &authzErr):
		if authzErr.Reason == auth.ReasonNotAuthenticated {
			return CodeUnauthenticated
		}
		return CodeForbidden
	default:
		return CodeInternal
	}
}

// classify reports denials to the middleware; internal failures are logged
// as errors.
func classify(err error) string {
	if code := DenialCode(err); code != CodeInternal {
		return code
	}
	return ""
}

// Dispatcher resolves, authorizes and runs tool invocations.
//
// Contract:
//   - Concurrency: safe for concurrent use; it holds no per-call state.
//   - Ordering: the handler runs only after the gate allowed the call.
//   - Audit: every call produces exactly one gate decision event.
type Dispatcher struct {
	registry *Registry
	resolver *auth.Resolver
	gate     *auth.Gate
	logger   observe.Logger
	mw       *observe.Middleware
	invoke   observe.ExecuteFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMiddleware instruments every invocation.
// Default: a middleware with no-op tracer and metrics.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(d *Dispatcher) {
		if mw != nil {
			d.mw = mw
		}
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l observe.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher. The gate should be built for resolver.Mode().
func New(registry *Registry, resolver *auth.Resolver, gate *auth.Gate, opts ...Option) (*Dispatcher, error) {
	switch {
	case registry == nil:
		return nil, errors.New("dispatch: registry is required")
	case resolver == nil:
		return nil, errors.New("dispatch: resolver is required")
	case gate == nil:
		return nil, errors.New("dispatch: gate is required")
	}

	d := &Dispatcher{
		registry: registry,
		resolver: resolver,
		gate:     gate,
		logger:   observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.mw == nil {
		obs := observe.Nop()
		d.mw = observe.NewMiddleware(observe.NewTracer(obs.Tracer()), observe.NopMetrics(), d.logger, classify)
	}
	d.invoke = d.mw.Wrap(d.execute)
	return d, nil
}

// Classifier returns the classifier to pass to observe.NewMiddleware so
// denials are logged as warnings rather than failures.
func Classifier() observe.Classifier {
	return classify
}

// Registry returns the tool table.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Invoke runs tool for the caller identified by cred. Errors are
// ErrUnknownTool, *auth.AuthenticationError, *auth.AuthorizationError or a
// handler failure; use DenialCode before returning them to a client.
func (d *Dispatcher) Invoke(ctx context.Context, tool string, cred auth.Credential, input any) (any, error) {
	ctx = auth.WithCredential(ctx, cred)
	return d.invoke(ctx, observe.ToolMeta{ID: tool, Name: tool}, input)
}

func (d *Dispatcher) execute(ctx context.Context, meta observe.ToolMeta, input any) (any, error) {
	span := trace.SpanFromContext(ctx)
	mode := d.resolver.Mode().String()
	cred, _ := auth.CredentialFromContext(ctx)

	tool, ok := d.registry.Lookup(meta.Name)
	if !ok {
		d.gate.Deny(ctx, auth.Anonymous(), meta.Name, audit.ReasonUnknownTool)
		observe.AnnotateDecision(span, mode, string(audit.DecisionDeny), audit.ReasonUnknownTool, "")
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, meta.Name)
	}

	ac, err := d.resolver.Resolve(ctx, cred)
	if err != nil {
		reason := string(auth.ReasonStoreFailure)
		var authnErr *auth.AuthenticationError
		if errors.As(err, &authnErr) {
			reason = authnErr.Code()
		}
		d.gate.Deny(ctx, ac, tool.Name, reason)
		observe.AnnotateDecision(span, mode, string(audit.DecisionDeny), reason, "")
		return nil, err
	}

	if err := d.gate.Authorize(ctx, ac, tool.Name, tool.Requirement); err != nil {
		observe.AnnotateDecision(span, mode, string(audit.DecisionDeny), reasonOf(err), ac.AuditID())
		return nil, err
	}
	observe.AnnotateDecision(span, mode, string(audit.DecisionAllow), allowReason(tool.Requirement), ac.AuditID())

	out, err := tool.Handler(auth.WithAuthenticationContext(ctx, ac), ac, input)
	if err != nil {
		return nil, fmt.Errorf("dispatch: tool %q: %w", tool.Name, err)
	}
	return out, nil
}

func reasonOf(err error) string {
	var authzErr *auth.AuthorizationError
	if errors.As(err, &authzErr) {
		return authzErr.Code()
	}
	return CodeInternal
}

func allowReason(req auth.Requirement) string {
	if req.IsAnonymous() {
		return audit.ReasonAnonymousAllowed
	}
	return audit.ReasonGranted
}
