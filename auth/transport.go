package auth

import (
	"context"
	"net/http"
	"strings"
)

// Header names read by CredentialFromHeaders.
const (
	HeaderAuthorization      = "Authorization"
	HeaderClientID           = "X-Client-Id"
	HeaderClientName         = "X-Client-Name"
	HeaderClientEmail        = "X-Client-Email"
	HeaderClientOrganization = "X-Client-Organization"
	HeaderSessionID          = "X-Session-Id"
)

// Profile holds caller-supplied descriptive fields. They are only used to
// create a Disabled-mode identity on first contact.
type Profile struct {
	Name         string
	Email        string
	Organization string
	SessionID    string
}

// Credential is the raw credential supplied with one invocation. Which field
// is read depends on the active mode: Identifier in Disabled mode, Token
// otherwise.
type Credential struct {
	Identifier string
	Token      string
	Profile    Profile
}

// IsEmpty reports whether the caller supplied neither an identifier nor a token.
func (c Credential) IsEmpty() bool {
	return c.Identifier == "" && c.Token == ""
}

// CredentialFromHeaders extracts a Credential from HTTP request headers.
func CredentialFromHeaders(h http.Header) Credential {
	token, _ := extractBearerToken(h.Get(HeaderAuthorization))
	return Credential{
		Identifier: strings.TrimSpace(h.Get(HeaderClientID)),
		Token:      token,
		Profile: Profile{
			Name:         strings.TrimSpace(h.Get(HeaderClientName)),
			Email:        strings.TrimSpace(h.Get(HeaderClientEmail)),
			Organization: strings.TrimSpace(h.Get(HeaderClientOrganization)),
			SessionID:    strings.TrimSpace(h.Get(HeaderSessionID)),
		},
	}
}

// WithCredentialHeaders is HTTP middleware that extracts the request
// credential into the context.
//
// Usage:
//
//	mux.Handle("/tools/", auth.WithCredentialHeaders(toolHandler))
func WithCredentialHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithCredential(r.Context(), CredentialFromHeaders(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithCredential returns a new context carrying cred.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey, cred)
}

// CredentialFromContext retrieves the credential stored by WithCredential.
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey).(Credential)
	return cred, ok
}

// extractBearerToken extracts the token from a Bearer authorization header.
func extractBearerToken(header string) (string, bool) {
	// Case-insensitive "Bearer " prefix check
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", false
	}
	return token, true
}
