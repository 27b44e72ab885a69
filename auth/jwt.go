package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/observe"
	"github.com/jonwraymond/toolauth/secret"
)

// Algorithm families used when no algorithms are configured.
var (
	hmacAlgorithms    = []string{"HS256", "HS384", "HS512"}
	rsaAlgorithms     = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	ecdsaAlgorithms   = []string{"ES256", "ES384", "ES512"}
	ed25519Algorithms = []string{"EdDSA"}

	// jwksAlgorithms are the asymmetric algorithms a published key set may use.
	jwksAlgorithms = append(append([]string{}, rsaAlgorithms...), ecdsaAlgorithms...)
)

// KeyProvider retrieves signing keys for JWT validation.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a static verification key.
type StaticKeyProvider struct {
	key any
}

// NewStaticKeyProvider creates a static key provider. key is an HMAC secret
// ([]byte) or a parsed public key.
func NewStaticKeyProvider(key any) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	return p.key, nil
}

// ParseVerificationKey interprets key material. PEM encoded RSA, ECDSA and
// Ed25519 public keys are parsed; anything else is an HMAC secret. It also
// returns the algorithms that suit the key.
func ParseVerificationKey(material string) (any, []string, error) {
	if !strings.Contains(material, "-----BEGIN") {
		if material == "" {
			return nil, nil, ErrKeyNotFound
		}
		return []byte(material), hmacAlgorithms, nil
	}

	pem := []byte(material)
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, rsaAlgorithms, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return key, ecdsaAlgorithms, nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(pem)
	if err != nil {
		return nil, nil, errors.New("auth: PEM block is not an RSA, ECDSA or Ed25519 public key")
	}
	return key, ed25519Algorithms, nil
}

// LoadKeyProvider builds the bearer key source from configuration: a JWKS
// endpoint when jwks_url is set, otherwise the key behind signing_key_ref.
func LoadKeyProvider(ctx context.Context, cfg config.JWT, secrets *secret.Resolver, client *http.Client) (KeyProvider, []string, error) {
	if cfg.JWKSURL != "" {
		keys := NewJWKSKeyProvider(JWKSConfig{URL: cfg.JWKSURL, HTTPClient: client})
		return keys, jwksAlgorithms, nil
	}

	material, err := secrets.ResolveValue(ctx, cfg.SigningKeyRef)
	if err != nil {
		return nil, nil, &ConfigurationError{Field: "auth.jwt.signing_key_ref", Reason: err.Error()}
	}
	key, algorithms, err := ParseVerificationKey(material)
	if err != nil {
		return nil, nil, &ConfigurationError{Field: "auth.jwt.signing_key_ref", Reason: err.Error()}
	}
	return NewStaticKeyProvider(key), algorithms, nil
}

// BearerConfig configures the Authenticated-mode validator.
type BearerConfig struct {
	// Issuer is the expected token issuer (iss claim).
	Issuer string

	// Audience is the expected token audience (aud claim).
	Audience string

	// Algorithms lists the accepted signing algorithms.
	// Default: HS256, HS384, HS512
	Algorithms []string

	// UserIDClaim is the claim containing the user id.
	// Default: "sub"
	UserIDClaim string

	// RolesClaim is the claim containing user roles, as an array or a space
	// or comma separated string.
	// Default: "roles"
	RolesClaim string

	// EmailClaim default: "email"
	EmailClaim string
	// NameClaim default: "name"
	NameClaim string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration

	// Keys is required.
	Keys KeyProvider

	// Store is required.
	Store identity.Store

	// AuditIDs issues audit ids for new records.
	AuditIDs *identity.AuditIDIssuer

	Logger observe.Logger
	Now    func() time.Time
}

// BearerValidator validates signed bearer tokens and upserts the user.
type BearerValidator struct {
	config BearerConfig
	parser *jwt.Parser
}

// NewBearerValidator creates an Authenticated-mode validator.
func NewBearerValidator(config BearerConfig) *BearerValidator {
	// Apply defaults
	if len(config.Algorithms) == 0 {
		config.Algorithms = hmacAlgorithms
	}
	if config.UserIDClaim == "" {
		config.UserIDClaim = "sub"
	}
	if config.RolesClaim == "" {
		config.RolesClaim = "roles"
	}
	if config.EmailClaim == "" {
		config.EmailClaim = "email"
	}
	if config.NameClaim == "" {
		config.NameClaim = "name"
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &BearerValidator{
		config: config,
		parser: newTokenParser(config.Issuer, config.Audience, config.Algorithms, config.Leeway, config.Now),
	}
}

// Mode returns ModeAuthenticated.
func (v *BearerValidator) Mode() Mode {
	return ModeAuthenticated
}

// Validate checks the token signature, issuer, audience and expiry. Only a
// valid token reaches the store.
func (v *BearerValidator) Validate(ctx context.Context, cred Credential) (identity.Record, error) {
	if cred.Token == "" {
		return nil, authFailure(ModeAuthenticated, ReasonInvalidToken, ErrMissingCredentials)
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(cred.Token, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.config.Keys.GetKey(ctx, kid)
	})
	if err != nil {
		return nil, authFailure(ModeAuthenticated, ReasonInvalidToken, tokenError(err))
	}

	userID := stringClaim(claims, v.config.UserIDClaim)
	if userID == "" {
		return nil, authFailure(ModeAuthenticated, ReasonInvalidToken,
			jwt.ErrTokenRequiredClaimMissing)
	}

	rec, created, err := v.config.Store.UpsertAuthenticated(ctx, identity.AuthenticatedProfile{
		UserID:      userID,
		Email:       stringClaim(claims, v.config.EmailClaim),
		DisplayName: stringClaim(claims, v.config.NameClaim),
		Roles:       splitClaimList(claims[v.config.RolesClaim]),
		SeenAt:      v.config.Now(),
	}, v.config.AuditIDs)
	if err != nil {
		return nil, authFailure(ModeAuthenticated, ReasonStoreFailure, err)
	}

	if created {
		v.config.Logger.Debug(ctx, "authenticated identity created",
			observe.Field{Key: "subject_id", Value: rec.UserID},
			observe.Field{Key: "audit_id", Value: rec.AuditID},
		)
	}
	return rec, nil
}

func newTokenParser(issuer, audience string, algorithms []string, leeway time.Duration, now func() time.Time) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return jwt.NewParser(opts...)
}

// tokenError classifies a jwt parse error under the package sentinels.
func tokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %w", ErrTokenRejected, err)
}

func stringClaim(claims map[string]any, name string) string {
	if name == "" {
		return ""
	}
	s, _ := claims[name].(string)
	return strings.TrimSpace(s)
}

// Ensure BearerValidator implements Validator
var _ Validator = (*BearerValidator)(nil)

// Ensure StaticKeyProvider implements KeyProvider
var _ KeyProvider = (*StaticKeyProvider)(nil)
