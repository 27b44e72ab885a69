package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for authentication and authorization.
var (
	// Authentication errors
	ErrUnauthenticated     = errors.New("auth: unauthenticated")
	ErrMissingCredentials  = errors.New("auth: missing credentials")
	ErrTokenRejected       = errors.New("auth: token rejected")
	ErrTokenExpired        = errors.New("auth: token expired")
	ErrTokenInactive       = errors.New("auth: token inactive")
	ErrIntrospectionFailed = errors.New("auth: introspection failed")
	ErrKeyNotFound         = errors.New("auth: signing key not found")

	// Authorization errors
	ErrForbidden          = errors.New("auth: access denied")
	ErrInvalidRequirement = errors.New("auth: invalid capability requirement")
)

// ConfigurationError reports invalid startup configuration. It is fatal: the
// process must not serve traffic.
type ConfigurationError struct {
	// Field is the configuration key at fault (e.g. "auth.jwt.issuer").
	Field string

	// Reason explains what is wrong with it.
	Reason string
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("auth configuration: field=%q: %s", e.Field, e.Reason)
}

// AuthenticationReason classifies an AuthenticationError.
type AuthenticationReason string

const (
	ReasonMalformedIdentifier AuthenticationReason = "malformed_identifier"
	ReasonInvalidProfile      AuthenticationReason = "invalid_profile"
	ReasonInvalidToken        AuthenticationReason = "invalid_token"
	ReasonTenantNotAllowed    AuthenticationReason = "tenant_not_allowed"
	ReasonProviderUnavailable AuthenticationReason = "provider_unavailable"

	// ReasonStoreFailure means the identity store could not confirm or record
	// the identity. The request is denied.
	ReasonStoreFailure AuthenticationReason = "store_failure"
)

// AuthenticationError is returned when a credential cannot be turned into an
// identity.
type AuthenticationError struct {
	Reason AuthenticationReason

	// Mode is the active mode when the failure occurred.
	Mode Mode

	// Cause is the underlying error if any.
	Cause error
}

// Error returns the error message.
func (e *AuthenticationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("authentication failed: mode=%q reason=%q", e.Mode, e.Reason)
	}
	return fmt.Sprintf("authentication failed: mode=%q reason=%q: %v", e.Mode, e.Reason, e.Cause)
}

// Unwrap returns the cause error for errors.Is/As support.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrUnauthenticated.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrUnauthenticated
}

// Code returns the reason as a caller-facing code.
func (e *AuthenticationError) Code() string {
	return string(e.Reason)
}

// AuthorizationReason classifies an AuthorizationError.
type AuthorizationReason string

const (
	ReasonNotAuthenticated   AuthorizationReason = "not_authenticated"
	ReasonInsufficientRole   AuthorizationReason = "insufficient_role"
	ReasonInvalidRequirement AuthorizationReason = "invalid_requirement"
)

// AuthorizationError represents an authorization failure.
type AuthorizationError struct {
	// Subject is the subject id that was denied, empty when anonymous.
	Subject string

	// Tool is the tool that was denied, when known.
	Tool string

	// Required is the set of acceptable roles.
	Required []string

	Reason AuthorizationReason

	// Cause is the underlying error if any.
	Cause error
}

// Error returns the error message.
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q tool=%q required=[%s] reason=%q",
		e.Subject, e.Tool, strings.Join(e.Required, ","), e.Reason)
}

// Unwrap returns the cause error for errors.Is/As support.
func (e *AuthorizationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrForbidden.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrForbidden
}

// Code returns the reason as a caller-facing code.
func (e *AuthorizationError) Code() string {
	return string(e.Reason)
}

func authFailure(mode Mode, reason AuthenticationReason, cause error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Mode: mode, Cause: cause}
}

// asAuthenticationError makes err an *AuthenticationError. Anything that is not
// one already is treated as a store failure.
func asAuthenticationError(mode Mode, err error) *AuthenticationError {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae
	}
	return authFailure(mode, ReasonStoreFailure, err)
}
