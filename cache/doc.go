// Package cache keeps short-lived verification results keyed by a hash of the
// credential that produced them.
//
// Provider round trips (introspection, JWKS-backed verification) are cached so
// repeated invocations with the same token do not hit the identity provider.
// Keys never contain the raw token; see TokenKeyer. Entry lifetimes are
// clamped by Policy and never outlive the token itself.
package cache
