package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client authentication methods for the introspection endpoint.
const (
	ClientSecretBasic = "client_secret_basic"
	ClientSecretPost  = "client_secret_post"
)

// IntrospectionConfig configures RFC 7662 token introspection.
type IntrospectionConfig struct {
	// Endpoint is the URL of the OAuth2 introspection endpoint.
	Endpoint string

	// ClientID is the client identifier for introspection requests.
	ClientID string

	// ClientSecret is the client secret for introspection requests.
	ClientSecret string

	// Audience is the client id the token must have been issued for. When
	// set, a response whose aud (or client_id when aud is absent) names
	// another client is rejected.
	Audience string

	// Issuer is the expected iss. A response without iss is accepted.
	Issuer string

	// ClientAuthMethod is how to authenticate to the introspection endpoint.
	// Options: "client_secret_basic" (default), "client_secret_post"
	ClientAuthMethod string

	// HTTPClient is the HTTP client to use. If nil, a default client is used.
	HTTPClient *http.Client

	// Now overrides the clock in tests.
	Now func() time.Time
}

// IntrospectionVerifier asks the provider whether a token is active.
type IntrospectionVerifier struct {
	config IntrospectionConfig
}

// NewIntrospectionVerifier creates an introspection verifier.
func NewIntrospectionVerifier(config IntrospectionConfig) *IntrospectionVerifier {
	if config.ClientAuthMethod == "" {
		config.ClientAuthMethod = ClientSecretBasic
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &IntrospectionVerifier{config: config}
}

// Endpoint returns the introspection URL.
func (v *IntrospectionVerifier) Endpoint() string {
	return v.config.Endpoint
}

// Verify introspects the token. An inactive, expired or foreign token is
// rejected; transport failures and non-200 responses are provider errors.
func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*ProviderClaims, error) {
	raw, err := v.introspect(ctx, token)
	if err != nil {
		return nil, err
	}

	if active, _ := raw["active"].(bool); !active {
		return nil, rejectToken(ErrTokenInactive)
	}

	if err := v.checkAudience(raw); err != nil {
		return nil, rejectToken(err)
	}
	if iss, _ := raw["iss"].(string); v.config.Issuer != "" && iss != "" && iss != v.config.Issuer {
		return nil, rejectToken(fmt.Errorf("issuer %q not accepted", iss))
	}

	pc := providerClaimsFromMap(raw)
	if !pc.ExpiresAt.IsZero() && !v.config.Now().Before(pc.ExpiresAt) {
		return nil, rejectToken(ErrTokenExpired)
	}
	if pc.ObjectID == "" {
		return nil, rejectToken(errors.New("introspection response has no subject"))
	}
	return pc, nil
}

func (v *IntrospectionVerifier) checkAudience(raw map[string]any) error {
	want := v.config.Audience
	if want == "" {
		return nil
	}
	switch aud := raw["aud"].(type) {
	case string:
		if aud == want {
			return nil
		}
		return fmt.Errorf("audience %q not accepted", aud)
	case []any:
		for _, a := range aud {
			if s, _ := a.(string); s == want {
				return nil
			}
		}
		return errors.New("audience does not include the client id")
	}
	if cid, ok := raw["client_id"].(string); ok && cid != want {
		return fmt.Errorf("token issued to client %q", cid)
	}
	return nil
}

func (v *IntrospectionVerifier) introspect(ctx context.Context, token string) (map[string]any, error) {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	if v.config.ClientAuthMethod == ClientSecretPost {
		form.Set("client_id", v.config.ClientID)
		form.Set("client_secret", v.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if v.config.ClientAuthMethod == ClientSecretBasic {
		req.SetBasicAuth(url.QueryEscape(v.config.ClientID), url.QueryEscape(v.config.ClientSecret))
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntrospectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrIntrospectionFailed, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrIntrospectionFailed, err)
	}
	return raw, nil
}

// Ensure IntrospectionVerifier implements TokenVerifier
var _ TokenVerifier = (*IntrospectionVerifier)(nil)
