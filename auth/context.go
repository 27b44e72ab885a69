package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jonwraymond/toolauth/identity"
)

// Context keys for auth-related values.
type contextKey int

const (
	authContextKey contextKey = iota
	credentialKey
)

// AnonymousDisplayName is the display name of an unauthenticated caller.
const AnonymousDisplayName = "Anonymous"

// AuthenticationContext is the per-invocation view of the caller. It is
// built fresh for every invocation, never persisted, and immutable: every
// accessor returns a copy.
type AuthenticationContext struct {
	authenticated bool
	mode          Mode
	subjectID     string
	displayName   string
	auditID       string
	roles         []string
}

// Anonymous returns the context of an unauthenticated caller.
func Anonymous() AuthenticationContext {
	return AuthenticationContext{}
}

// IsAuthenticated reports whether a credential was validated.
func (c AuthenticationContext) IsAuthenticated() bool {
	return c.authenticated
}

// SubjectID returns the natural key of the caller. The bool is false for an
// unauthenticated context.
func (c AuthenticationContext) SubjectID() (string, bool) {
	return c.subjectID, c.authenticated
}

// DisplayName returns the caller's display name, the subject id when no name
// is known, or AnonymousDisplayName when unauthenticated.
func (c AuthenticationContext) DisplayName() string {
	switch {
	case !c.authenticated:
		return AnonymousDisplayName
	case c.displayName != "":
		return c.displayName
	default:
		return c.subjectID
	}
}

// Roles returns a copy of the caller's roles.
func (c AuthenticationContext) Roles() []string {
	return slices.Clone(c.roles)
}

// HasRole reports whether the caller holds role. Comparison is
// case-insensitive.
func (c AuthenticationContext) HasRole(role string) bool {
	for _, r := range c.roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the caller holds at least one of roles.
func (c AuthenticationContext) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, c.HasRole)
}

// Mode returns the mode that produced the context. It is zero for Anonymous.
func (c AuthenticationContext) Mode() Mode {
	return c.mode
}

// AuditID returns the audit correlation id. Disabled-mode contexts use the
// client identifier.
func (c AuthenticationContext) AuditID() string {
	return c.auditID
}

// ContextOption configures BuildContext.
type ContextOption func(*contextOptions)

type contextOptions struct {
	scopeRoles ScopeRoleMap
}

// WithScopeRoles sets the table used to turn OAuth scopes into roles.
// Without it OAuth contexts carry no roles.
func WithScopeRoles(m ScopeRoleMap) ContextOption {
	return func(o *contextOptions) {
		o.scopeRoles = m
	}
}

// BuildContext turns a validated record into an authenticated context. It is
// pure. A record that does not belong to mode is a programming error and
// panics.
func BuildContext(rec identity.Record, mode Mode, opts ...ContextOption) AuthenticationContext {
	var o contextOptions
	for _, opt := range opts {
		opt(&o)
	}

	if rec == nil {
		panic("auth: BuildContext called with a nil record")
	}
	if want, ok := mode.Variant(); !ok || rec.Variant() != want {
		panic(fmt.Sprintf("auth: %s record cannot build a %s context", rec.Variant(), mode))
	}

	ac := AuthenticationContext{
		authenticated: true,
		mode:          mode,
		subjectID:     rec.NaturalKey(),
		auditID:       rec.AuditKey(),
	}
	switch r := rec.(type) {
	case *identity.DisabledIdentity:
		ac.displayName = r.Name
	case *identity.AuthenticatedIdentity:
		ac.displayName = r.DisplayName
		ac.roles = normalizeRoles(r.Roles)
	case *identity.OAuthIdentity:
		ac.displayName = r.DisplayName
		ac.roles = o.scopeRoles.Roles(r.Scopes)
	}
	return ac
}

// WithAuthenticationContext returns a new context with ac attached.
func WithAuthenticationContext(ctx context.Context, ac AuthenticationContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext retrieves the authentication context. It returns Anonymous when
// none is present.
func FromContext(ctx context.Context) AuthenticationContext {
	ac, _ := ctx.Value(authContextKey).(AuthenticationContext)
	return ac
}

// SubjectFromContext retrieves the subject id from the context.
// Returns empty string if the caller is not authenticated.
func SubjectFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx).SubjectID()
	return id
}
