package auth

import (
	"context"
	"time"

	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/observe"
)

// Resolver resolves a credential into an AuthenticationContext with the
// process's single validator.
type Resolver struct {
	validator Validator
	mode      Mode
	opts      []ContextOption
	metrics   observe.Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverMetrics records resolve latency and outcome.
func WithResolverMetrics(m observe.Metrics) ResolverOption {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// scopeRoleSource is implemented by validators whose records carry scopes.
type scopeRoleSource interface {
	ScopeRoles() ScopeRoleMap
}

// NewResolver creates a resolver around validator.
func NewResolver(validator Validator, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		validator: validator,
		mode:      validator.Mode(),
		metrics:   observe.NopMetrics(),
	}
	if src, ok := validator.(scopeRoleSource); ok {
		r.opts = append(r.opts, WithScopeRoles(src.ScopeRoles()))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// New resolves the mode from cfg, builds its validator and wraps it in a
// Resolver. Configuration problems are *ConfigurationError.
func New(ctx context.Context, cfg config.Auth, deps Dependencies, opts ...ResolverOption) (*Resolver, error) {
	mode, err := ResolveMode(cfg)
	if err != nil {
		return nil, err
	}
	validator, err := NewValidator(ctx, mode, cfg, deps)
	if err != nil {
		return nil, err
	}
	return NewResolver(validator, opts...), nil
}

// Mode returns the active mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Validator returns the active validator.
func (r *Resolver) Validator() Validator {
	return r.validator
}

// Resolve validates cred and builds the caller's context. An empty credential
// resolves to Anonymous without reaching the validator. Every error is an
// *AuthenticationError; on error the returned context is Anonymous.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (AuthenticationContext, error) {
	if cred.IsEmpty() {
		return Anonymous(), nil
	}

	start := time.Now()
	rec, err := r.validator.Validate(ctx, cred)
	r.metrics.RecordResolve(ctx, r.mode.String(), time.Since(start), err)
	if err != nil {
		return Anonymous(), asAuthenticationError(r.mode, err)
	}
	return BuildContext(rec, r.mode, r.opts...), nil
}
