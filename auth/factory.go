package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jonwraymond/toolauth/cache"
	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/observe"
	"github.com/jonwraymond/toolauth/secret"
)

// Validator turns a credential into an identity record for one mode.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: domain failures are *AuthenticationError. Nothing is written to
//     the store unless the credential validated.
//   - Locking: no store lock is held while waiting on an identity provider.
type Validator interface {
	// Mode returns the mode this validator serves.
	Mode() Mode

	// Validate checks cred and finds or creates the matching record.
	Validate(ctx context.Context, cred Credential) (identity.Record, error)
}

// Dependencies are the collaborators handed to a validator factory.
type Dependencies struct {
	// Store is required.
	Store identity.Store

	// Issuer generates audit ids. Default: built from auth.audit_id.
	Issuer *identity.AuditIDIssuer

	// Secrets resolves signing_key_ref and client_secret_ref.
	// Default: the env and file providers in strict mode.
	Secrets *secret.Resolver

	// HTTPClient is used for JWKS and introspection calls.
	// Default: a client with a 10 second timeout.
	HTTPClient *http.Client

	// Cache holds verified provider claims when auth.oauth.cache_ttl is set.
	// Default: an in-memory cache.
	Cache cache.Cache

	Logger observe.Logger

	// KeyProvider replaces the configured bearer key source.
	KeyProvider KeyProvider

	// Verifier replaces the configured OAuth token verifier.
	Verifier TokenVerifier

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (d Dependencies) withDefaults(cfg config.Auth) (Dependencies, error) {
	if d.Store == nil {
		return d, errors.New("auth: identity store is required")
	}
	if d.Issuer == nil {
		d.Issuer = identity.NewAuditIDIssuer(identity.AuditIDConfig{MaxAttempts: cfg.AuditID.MaxAttempts})
	}
	if d.Secrets == nil {
		res, err := secret.DefaultRegistry.NewResolver(true, nil)
		if err != nil {
			return d, err
		}
		d.Secrets = res
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = observe.NopLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d, nil
}

// ValidatorFactory creates the validator for one mode.
type ValidatorFactory func(ctx context.Context, cfg config.Auth, deps Dependencies) (Validator, error)

// Registry maps modes to validator factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Mode]ValidatorFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Mode]ValidatorFactory)}
}

// Register adds a validator factory for mode.
func (r *Registry) Register(mode Mode, factory ValidatorFactory) error {
	if !mode.Valid() || factory == nil {
		return errors.New("invalid validator registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[mode]; exists {
		return fmt.Errorf("validator for mode %q already registered", mode)
	}
	r.factories[mode] = factory
	return nil
}

// Create instantiates the validator for mode.
func (r *Registry) Create(ctx context.Context, mode Mode, cfg config.Auth, deps Dependencies) (Validator, error) {
	r.mu.RLock()
	factory, ok := r.factories[mode]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("validator for mode %q not found", mode)
	}

	deps, err := deps.withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return factory(ctx, cfg, deps)
}

// Modes returns the registered modes in order.
func (r *Registry) Modes() []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]Mode, 0, len(r.factories))
	for mode := range r.factories {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// DefaultRegistry holds the built-in validator for every mode.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(ModeDisabled, newDisabledFromConfig)
	_ = r.Register(ModeAuthenticated, newBearerFromConfig)
	_ = r.Register(ModeOAuth, newOAuthFromConfig)
	return r
}

// NewValidator builds the validator for mode from DefaultRegistry.
func NewValidator(ctx context.Context, mode Mode, cfg config.Auth, deps Dependencies) (Validator, error) {
	return DefaultRegistry.Create(ctx, mode, cfg, deps)
}

func newDisabledFromConfig(_ context.Context, cfg config.Auth, deps Dependencies) (Validator, error) {
	format, err := ParseGUIDFormat(cfg.GUIDValidation.Format)
	if err != nil {
		return nil, &ConfigurationError{Field: "auth.guid_validation.format", Reason: err.Error()}
	}
	return NewDisabledValidator(DisabledConfig{
		Format: format,
		Store:  deps.Store,
		Logger: deps.Logger,
		Now:    deps.Now,
	}), nil
}

func newBearerFromConfig(ctx context.Context, cfg config.Auth, deps Dependencies) (Validator, error) {
	keys := deps.KeyProvider
	algorithms := cfg.JWT.Algorithms
	if keys == nil {
		var family []string
		var err error
		keys, family, err = LoadKeyProvider(ctx, cfg.JWT, deps.Secrets, deps.HTTPClient)
		if err != nil {
			return nil, err
		}
		if len(algorithms) == 0 {
			algorithms = family
		}
	}

	return NewBearerValidator(BearerConfig{
		Issuer:      cfg.JWT.Issuer,
		Audience:    cfg.JWT.Audience,
		Algorithms:  algorithms,
		UserIDClaim: cfg.JWT.UserIDClaim,
		RolesClaim:  cfg.JWT.RolesClaim,
		EmailClaim:  cfg.JWT.EmailClaim,
		NameClaim:   cfg.JWT.NameClaim,
		Leeway:      cfg.JWT.Leeway,
		Keys:        keys,
		Store:       deps.Store,
		AuditIDs:    deps.Issuer,
		Logger:      deps.Logger,
		Now:         deps.Now,
	}), nil
}

func newOAuthFromConfig(ctx context.Context, cfg config.Auth, deps Dependencies) (Validator, error) {
	o := cfg.OAuth

	verifier := deps.Verifier
	if verifier == nil {
		var err error
		verifier, err = newProviderVerifier(ctx, o, deps)
		if err != nil {
			return nil, err
		}
	}

	policy := cache.NoCachePolicy()
	var store cache.Cache
	if o.CacheTTL > 0 {
		policy = cache.DefaultPolicy()
		policy.DefaultTTL = o.CacheTTL
		policy.MaxTTL = o.CacheTTL
		store = deps.Cache
		if store == nil {
			store = cache.NewMemoryCache(policy)
		}
	}

	return NewOAuthValidator(OAuthConfig{
		TenantAllowlist: o.TenantAllowlist,
		ScopeRoles:      NewScopeRoleMap(o.ScopeToRoleMap),
		Verifier:        verifier,
		Executor:        newProviderExecutor(o),
		Cache:           store,
		CachePolicy:     policy,
		Store:           deps.Store,
		AuditIDs:        deps.Issuer,
		Logger:          deps.Logger,
		Now:             deps.Now,
	}), nil
}

func newProviderVerifier(ctx context.Context, o config.OAuth, deps Dependencies) (TokenVerifier, error) {
	if o.IntrospectionEndpoint != "" {
		var clientSecret string
		if o.ClientSecretRef != "" {
			var err error
			clientSecret, err = deps.Secrets.ResolveValue(ctx, o.ClientSecretRef)
			if err != nil {
				return nil, &ConfigurationError{Field: "auth.oauth.client_secret_ref", Reason: err.Error()}
			}
		}
		return NewIntrospectionVerifier(IntrospectionConfig{
			Endpoint:     o.IntrospectionEndpoint,
			ClientID:     o.ClientID,
			ClientSecret: clientSecret,
			Audience:     o.ClientID,
			Issuer:       o.Issuer,
			HTTPClient:   deps.HTTPClient,
			Now:          deps.Now,
		}), nil
	}

	keys := NewJWKSKeyProvider(JWKSConfig{
		URL:        o.JWKSURL,
		HTTPClient: deps.HTTPClient,
	})
	return NewJWKSVerifier(JWKSVerifierConfig{
		Issuer:   o.Issuer,
		Audience: o.ClientID,
		Leeway:   o.Leeway,
		Now:      deps.Now,
	}, keys), nil
}
