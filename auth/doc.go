// Package auth resolves the caller identity for a tool invocation and decides
// whether the invocation may proceed.
//
// Exactly one authentication mode is active per process. ResolveMode turns the
// auth configuration into that mode once at startup; NewValidator builds the
// single Validator for it. Resolver runs the validator against each
// credential and returns an immutable AuthenticationContext. Gate evaluates a
// tool's Requirement against that context and emits an audit event for every
// decision.
//
// Modes:
//   - Disabled: clients send a self-issued UUID. No roles are granted.
//   - Authenticated: clients send a signed bearer token (golang-jwt).
//   - OAuth: clients send a token from an external identity provider,
//     verified by JWKS signature check or RFC 7662 introspection. Granted
//     scopes become roles through a configured table.
//
// Failures are typed. Resolver only ever returns *AuthenticationError;
// Authorize only ever returns *AuthorizationError. Both match the sentinels
// ErrUnauthenticated and ErrForbidden with errors.Is.
package auth
