// Package secret resolves signing keys and client secrets referenced from
// configuration.
//
// Configuration never carries key material directly. Values are either
// environment expansions ("${TOOLAUTH_JWT_SECRET}") or references with the
// prefix "secretref:":
//
//	secretref:env:TOOLAUTH_JWT_SECRET
//	secretref:file:/run/secrets/jwt-signing.pem
//
// Providers are pluggable (see Provider and Registry). The env and file
// providers are registered in DefaultRegistry.
package secret
