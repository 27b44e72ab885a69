package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/toolauth/resilience"
)

// ProviderClaims are the verified facts an identity provider vouches for.
type ProviderClaims struct {
	ObjectID  string    `json:"oid"`
	TenantID  string    `json:"tid"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"exp,omitzero"`
}

// TokenVerifier checks a provider token.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: a token the provider rejects is reported through
//     resilience.Permanent so it is neither retried nor counted by the
//     circuit breaker. Any other error means the provider could not answer.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*ProviderClaims, error)
}

// TokenVerifierFunc adapts an ordinary function to a TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*ProviderClaims, error)

// Verify calls f(ctx, token).
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*ProviderClaims, error) {
	return f(ctx, token)
}

// rejectToken marks err as a token defect.
func rejectToken(err error) error {
	if errors.Is(err, ErrTokenRejected) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInactive) {
		return resilience.Permanent(err)
	}
	return resilience.Permanent(fmt.Errorf("%w: %w", ErrTokenRejected, err))
}

// JWKSVerifierConfig configures signature verification with provider keys.
type JWKSVerifierConfig struct {
	// Issuer is the expected iss claim.
	Issuer string

	// Audience is the expected aud claim, normally the client id.
	Audience string

	// Algorithms lists the accepted signing algorithms.
	// Default: RS256, RS384, RS512, PS256, PS384, PS512, ES256, ES384, ES512
	Algorithms []string

	Leeway time.Duration
	Now    func() time.Time
}

// JWKSVerifier verifies provider-signed JWTs locally.
type JWKSVerifier struct {
	keys   KeyProvider
	parser *jwt.Parser
}

// NewJWKSVerifier creates a verifier that checks signatures with keys.
func NewJWKSVerifier(config JWKSVerifierConfig, keys KeyProvider) *JWKSVerifier {
	if len(config.Algorithms) == 0 {
		config.Algorithms = jwksAlgorithms
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &JWKSVerifier{
		keys:   keys,
		parser: newTokenParser(config.Issuer, config.Audience, config.Algorithms, config.Leeway, config.Now),
	}
}

// Verify checks the token signature and standard claims. Failing to fetch
// keys is a provider error; everything else rejects the token.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*ProviderClaims, error) {
	claims := jwt.MapClaims{}
	var keyErr error
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.GetKey(ctx, kid)
		keyErr = err
		return key, err
	})
	if err != nil {
		if keyErr != nil && !errors.Is(keyErr, ErrKeyNotFound) {
			return nil, fmt.Errorf("provider keys: %w", keyErr)
		}
		return nil, rejectToken(tokenError(err))
	}

	pc := providerClaimsFromMap(claims)
	if pc.ObjectID == "" {
		return nil, rejectToken(jwt.ErrTokenRequiredClaimMissing)
	}
	return pc, nil
}

// providerClaimsFromMap reads the claims issued by Entra-style providers:
// oid (falling back to sub), tid, scp or scope.
func providerClaimsFromMap(m map[string]any) *ProviderClaims {
	pc := &ProviderClaims{
		ObjectID: firstString(m, "oid", "sub"),
		TenantID: firstString(m, "tid", "tenant_id"),
		Email:    firstString(m, "email", "preferred_username", "upn"),
		Name:     firstString(m, "name"),
	}

	if scopes := splitClaimList(m["scp"]); len(scopes) > 0 {
		pc.Scopes = scopes
	} else {
		pc.Scopes = splitClaimList(m["scope"])
	}

	switch exp := m["exp"].(type) {
	case float64:
		pc.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	case json.Number:
		if n, err := exp.Int64(); err == nil {
			pc.ExpiresAt = time.Unix(n, 0).UTC()
		}
	}
	return pc
}

func firstString(m map[string]any, names ...string) string {
	for _, name := range names {
		if s, ok := m[name].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Ensure JWKSVerifier implements TokenVerifier
var _ TokenVerifier = (*JWKSVerifier)(nil)
