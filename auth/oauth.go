package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/toolauth/cache"
	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/observe"
	"github.com/jonwraymond/toolauth/resilience"
)

// claimsCacheNamespace scopes verified-claims cache keys.
const claimsCacheNamespace = "oauth"

// OAuthConfig configures the OAuth-mode validator.
type OAuthConfig struct {
	// TenantAllowlist lists the tenant ids that may authenticate. Matching is
	// case-insensitive.
	TenantAllowlist []string

	// ScopeRoles turns granted scopes into roles.
	ScopeRoles ScopeRoleMap

	// Verifier is required.
	Verifier TokenVerifier

	// Executor bounds provider calls.
	// Default: 5s per attempt, 2 attempts, circuit breaker, 16 calls in flight.
	Executor *resilience.Executor

	// Cache holds verified claims by token hash. A nil Cache or a policy
	// that does not cache disables it.
	Cache       cache.Cache
	CachePolicy cache.Policy

	// Store is required.
	Store identity.Store

	// AuditIDs issues audit ids for new records.
	AuditIDs *identity.AuditIDIssuer

	Logger observe.Logger
	Now    func() time.Time
}

// OAuthValidator validates tokens issued by an external identity provider.
type OAuthValidator struct {
	config  OAuthConfig
	tenants map[string]struct{}
	keyer   cache.Keyer
}

// NewOAuthValidator creates an OAuth-mode validator.
func NewOAuthValidator(config OAuthConfig) *OAuthValidator {
	if config.Executor == nil {
		config.Executor = newProviderExecutor(defaultOAuth)
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	tenants := make(map[string]struct{}, len(config.TenantAllowlist))
	for _, t := range config.TenantAllowlist {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tenants[t] = struct{}{}
		}
	}

	return &OAuthValidator{
		config:  config,
		tenants: tenants,
		keyer:   cache.NewTokenKeyer(),
	}
}

// Mode returns ModeOAuth.
func (v *OAuthValidator) Mode() Mode {
	return ModeOAuth
}

// ScopeRoles returns the scope-to-role table used for contexts built from
// this validator's records.
func (v *OAuthValidator) ScopeRoles() ScopeRoleMap {
	return v.config.ScopeRoles
}

// CircuitBreaker returns the breaker guarding provider calls, if any.
func (v *OAuthValidator) CircuitBreaker() *resilience.CircuitBreaker {
	return v.config.Executor.CircuitBreaker()
}

// Validate verifies the token with the provider, checks the tenant and
// upserts the user. The store is only touched after the provider answered.
func (v *OAuthValidator) Validate(ctx context.Context, cred Credential) (identity.Record, error) {
	if cred.Token == "" {
		return nil, authFailure(ModeOAuth, ReasonInvalidToken, ErrMissingCredentials)
	}

	claims, err := v.verify(ctx, cred.Token)
	if err != nil {
		return nil, err
	}

	if !v.tenantAllowed(claims.TenantID) {
		return nil, authFailure(ModeOAuth, ReasonTenantNotAllowed,
			fmt.Errorf("tenant %q is not in the allow-list", claims.TenantID))
	}

	rec, created, err := v.config.Store.UpsertOAuth(ctx, identity.OAuthProfile{
		ObjectID:    claims.ObjectID,
		Email:       claims.Email,
		DisplayName: claims.Name,
		TenantID:    claims.TenantID,
		Scopes:      claims.Scopes,
		SeenAt:      v.config.Now(),
	}, v.config.AuditIDs)
	if err != nil {
		return nil, authFailure(ModeOAuth, ReasonStoreFailure, err)
	}

	if created {
		v.config.Logger.Debug(ctx, "oauth identity created",
			observe.Field{Key: "subject_id", Value: rec.ObjectID},
			observe.Field{Key: "tenant_id", Value: rec.TenantID},
			observe.Field{Key: "audit_id", Value: rec.AuditID},
		)
	}
	return rec, nil
}

func (v *OAuthValidator) tenantAllowed(tenant string) bool {
	_, ok := v.tenants[strings.ToLower(strings.TrimSpace(tenant))]
	return ok && tenant != ""
}

// verify returns cached claims when available, otherwise asks the provider
// through the executor.
func (v *OAuthValidator) verify(ctx context.Context, token string) (*ProviderClaims, error) {
	key, keyErr := v.keyer.Key(claimsCacheNamespace, token)
	if keyErr == nil {
		if claims, ok := v.cached(ctx, key); ok {
			return claims, nil
		}
	}

	// A timed-out attempt may still finish after Execute returns.
	var result atomic.Pointer[ProviderClaims]
	err := v.config.Executor.Execute(ctx, func(ctx context.Context) error {
		claims, err := v.config.Verifier.Verify(ctx, token)
		if err != nil {
			return err
		}
		result.Store(claims)
		return nil
	})
	if err != nil {
		if resilience.IsPermanent(err) {
			return nil, authFailure(ModeOAuth, ReasonInvalidToken, err)
		}
		v.config.Logger.Warn(ctx, "identity provider unavailable", observe.Field{Key: "error", Value: err})
		return nil, authFailure(ModeOAuth, ReasonProviderUnavailable, err)
	}

	claims := result.Load()
	if claims == nil || claims.ObjectID == "" {
		return nil, authFailure(ModeOAuth, ReasonInvalidToken, ErrTokenRejected)
	}

	if keyErr == nil && v.caching() {
		if ttl := v.config.CachePolicy.TTLUntil(claims.ExpiresAt, v.config.Now()); ttl > 0 {
			if data, err := json.Marshal(claims); err == nil {
				_ = v.config.Cache.Set(ctx, key, data, ttl)
			}
		}
	}
	return claims, nil
}

func (v *OAuthValidator) caching() bool {
	return v.config.Cache != nil && v.config.CachePolicy.ShouldCache()
}

func (v *OAuthValidator) cached(ctx context.Context, key string) (*ProviderClaims, bool) {
	if !v.caching() {
		return nil, false
	}
	data, ok := v.config.Cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var claims ProviderClaims
	if err := json.Unmarshal(data, &claims); err != nil {
		_ = v.config.Cache.Delete(ctx, key)
		return nil, false
	}
	if !claims.ExpiresAt.IsZero() && !v.config.Now().Before(claims.ExpiresAt) {
		_ = v.config.Cache.Delete(ctx, key)
		return nil, false
	}
	return &claims, true
}

var defaultOAuth config.OAuth

func newProviderExecutor(o config.OAuth) *resilience.Executor {
	policy := o.ProviderPolicy()
	if policy.Timeout == 0 {
		policy.Timeout = config.DefaultProviderTimeout
	}
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = config.DefaultProviderMaxAttempts
	}
	if policy.MaxConcurrent == 0 {
		policy.MaxConcurrent = config.DefaultProviderMaxConcurrent
	}
	return resilience.NewPolicyExecutor(policy)
}

// Ensure OAuthValidator implements Validator
var _ Validator = (*OAuthValidator)(nil)
