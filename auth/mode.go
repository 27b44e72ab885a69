package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/identity"
)

// Mode is the single active authentication strategy for the process.
type Mode int

const (
	// ModeDisabled accepts self-issued client identifiers.
	ModeDisabled Mode = iota + 1
	// ModeAuthenticated accepts signed bearer tokens.
	ModeAuthenticated
	// ModeOAuth accepts tokens from an external identity provider.
	ModeOAuth
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeAuthenticated:
		return "authenticated"
	case ModeOAuth:
		return "oauth"
	default:
		return "unknown"
	}
}

// Valid reports whether m is one of the three modes.
func (m Mode) Valid() bool {
	return m >= ModeDisabled && m <= ModeOAuth
}

// Variant returns the identity record variant the mode produces.
func (m Mode) Variant() (identity.Variant, bool) {
	switch m {
	case ModeDisabled:
		return identity.VariantDisabled, true
	case ModeAuthenticated:
		return identity.VariantAuthenticated, true
	case ModeOAuth:
		return identity.VariantOAuth, true
	default:
		return 0, false
	}
}

// ParseMode parses a mode name. Matching is case-insensitive and accepts the
// aliases none, jwt, bearer and oauth2.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, errors.New("mode is required")
	case "disabled", "none":
		return ModeDisabled, nil
	case "authenticated", "jwt", "bearer":
		return ModeAuthenticated, nil
	case "oauth", "oauth2":
		return ModeOAuth, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// GUIDFormat selects how strictly Disabled-mode identifiers are checked.
type GUIDFormat string

const (
	// GUIDFormatCanonical accepts only the 36-character hyphenated form.
	GUIDFormatCanonical GUIDFormat = "canonical"
	// GUIDFormatV4 accepts canonical version 4, RFC 4122 variant UUIDs.
	GUIDFormatV4 GUIDFormat = "v4"
	// GUIDFormatAny accepts every form uuid.Parse accepts.
	GUIDFormatAny GUIDFormat = "any"
)

// ParseGUIDFormat parses a format name. An empty name is canonical.
func ParseGUIDFormat(s string) (GUIDFormat, error) {
	switch f := GUIDFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return GUIDFormatCanonical, nil
	case GUIDFormatCanonical, GUIDFormatV4, GUIDFormatAny:
		return f, nil
	default:
		return "", fmt.Errorf("unknown guid format %q (want canonical, v4 or any)", s)
	}
}

// ResolveMode interprets the auth configuration and returns the active mode.
// Any error is a *ConfigurationError.
func ResolveMode(cfg config.Auth) (Mode, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return 0, &ConfigurationError{Field: "auth.mode", Reason: err.Error()}
	}

	switch mode {
	case ModeDisabled:
		err = checkDisabled(cfg.GUIDValidation)
	case ModeAuthenticated:
		err = checkAuthenticated(cfg.JWT)
	case ModeOAuth:
		err = checkOAuth(cfg.OAuth)
	}
	if err != nil {
		return 0, err
	}
	if cfg.AuditID.MaxAttempts < 0 {
		return 0, &ConfigurationError{Field: "auth.audit_id.max_attempts", Reason: "must not be negative"}
	}
	return mode, nil
}

func checkDisabled(g config.GUIDValidation) error {
	if !g.Enabled {
		return &ConfigurationError{
			Field:  "auth.guid_validation.enabled",
			Reason: "must be true in disabled mode; unvalidated identifiers are not accepted",
		}
	}
	if _, err := ParseGUIDFormat(g.Format); err != nil {
		return &ConfigurationError{Field: "auth.guid_validation.format", Reason: err.Error()}
	}
	return nil
}

func checkAuthenticated(j config.JWT) error {
	switch {
	case strings.TrimSpace(j.Issuer) == "":
		return &ConfigurationError{Field: "auth.jwt.issuer", Reason: "is required in authenticated mode"}
	case strings.TrimSpace(j.Audience) == "":
		return &ConfigurationError{Field: "auth.jwt.audience", Reason: "is required in authenticated mode"}
	case j.SigningKeyRef == "" && j.JWKSURL == "":
		return &ConfigurationError{Field: "auth.jwt.signing_key_ref", Reason: "signing_key_ref or jwks_url is required in authenticated mode"}
	case j.Leeway < 0:
		return &ConfigurationError{Field: "auth.jwt.leeway", Reason: "must not be negative"}
	}
	for _, alg := range j.Algorithms {
		if err := checkAlgorithm(alg); err != nil {
			return &ConfigurationError{Field: "auth.jwt.algorithms", Reason: err.Error()}
		}
	}
	return nil
}

func checkOAuth(o config.OAuth) error {
	if !slices.ContainsFunc(o.TenantAllowlist, func(t string) bool { return strings.TrimSpace(t) != "" }) {
		return &ConfigurationError{Field: "auth.oauth.tenant_allowlist", Reason: "at least one tenant is required in oauth mode"}
	}
	if strings.TrimSpace(o.ClientID) == "" {
		return &ConfigurationError{Field: "auth.oauth.client_id", Reason: "is required in oauth mode"}
	}
	hasJWKS := o.JWKSURL != "" && o.Issuer != ""
	if !hasJWKS && o.IntrospectionEndpoint == "" {
		return &ConfigurationError{
			Field:  "auth.oauth.jwks_url",
			Reason: "jwks_url with issuer, or introspection_endpoint, is required in oauth mode",
		}
	}

	bounds := []struct {
		field string
		value int64
	}{
		{"auth.oauth.timeout", int64(o.Timeout)},
		{"auth.oauth.circuit_reset_timeout", int64(o.CircuitResetTimeout)},
		{"auth.oauth.cache_ttl", int64(o.CacheTTL)},
		{"auth.oauth.leeway", int64(o.Leeway)},
		{"auth.oauth.max_attempts", int64(o.MaxAttempts)},
		{"auth.oauth.circuit_max_failures", int64(o.CircuitMaxFailures)},
		{"auth.oauth.max_concurrent", int64(o.MaxConcurrent)},
	}
	for _, d := range bounds {
		if d.value < 0 {
			return &ConfigurationError{Field: d.field, Reason: "must not be negative"}
		}
	}
	return nil
}

func checkAlgorithm(alg string) error {
	if alg == "" || strings.EqualFold(alg, "none") {
		return fmt.Errorf("algorithm %q is not allowed", alg)
	}
	if jwt.GetSigningMethod(alg) == nil {
		return fmt.Errorf("unknown algorithm %q", alg)
	}
	return nil
}
