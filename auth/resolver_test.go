package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/toolauth/identity"
)

type validatorFunc struct {
	mode Mode
	fn   func(ctx context.Context, cred Credential) (identity.Record, error)
}

func (v validatorFunc) Mode() Mode { return v.mode }

func (v validatorFunc) Validate(ctx context.Context, cred Credential) (identity.Record, error) {
	return v.fn(ctx, cred)
}

func TestResolver_EmptyCredentialIsAnonymous(t *testing.T) {
	called := false
	r := NewResolver(validatorFunc{mode: ModeAuthenticated, fn: func(context.Context, Credential) (identity.Record, error) {
		called = true
		return nil, errors.New("unreachable")
	}})

	ac, err := r.Resolve(context.Background(), Credential{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ac.IsAuthenticated() || called {
		t.Errorf("IsAuthenticated() = %v, validator called = %v", ac.IsAuthenticated(), called)
	}
}

func TestResolver_Disabled(t *testing.T) {
	r := NewResolver(newTestDisabled(identity.NewMemoryStore()))
	if r.Mode() != ModeDisabled {
		t.Fatalf("Mode() = %v", r.Mode())
	}

	ac, err := r.Resolve(context.Background(), Credential{Identifier: testGUID, Profile: validProfile()})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id, _ := ac.SubjectID(); id != testGUID || ac.AuditID() != testGUID || ac.Mode() != ModeDisabled {
		t.Errorf("context = subject %q audit %q mode %v", id, ac.AuditID(), ac.Mode())
	}
	if len(ac.Roles()) != 0 {
		t.Errorf("Roles() = %v", ac.Roles())
	}
}

func TestResolver_OAuthPicksUpScopeRoles(t *testing.T) {
	v := newTestOAuth(&countingVerifier{claims: staticClaims(testTenant)}, identity.NewMemoryStore())
	r := NewResolver(v)

	ac, err := r.Resolve(context.Background(), Credential{Token: "provider-token"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ac.HasRole("Reader") {
		t.Errorf("Roles() = %v, want Reader from scope map", ac.Roles())
	}
}

func TestResolver_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want AuthenticationReason
	}{
		{"authentication error passes through", authFailure(ModeAuthenticated, ReasonInvalidToken, ErrTokenExpired), ReasonInvalidToken},
		{"foreign error fails closed", errors.New("surprise"), ReasonStoreFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(validatorFunc{mode: ModeAuthenticated, fn: func(context.Context, Credential) (identity.Record, error) {
				return nil, tt.err
			}})

			ac, err := r.Resolve(context.Background(), Credential{Token: "t"})
			requireAuthReason(t, err, tt.want)
			if ac.IsAuthenticated() {
				t.Error("context is authenticated after a failure")
			}
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("errors.Is(err, ErrUnauthenticated) = false")
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Setenv("TOOLAUTH_TEST_SIGNING_KEY", testSecret)
	deps := Dependencies{Store: identity.NewMemoryStore(), Now: fixedClock}

	r, err := New(context.Background(), authenticatedConfig(), deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r.Mode() != ModeAuthenticated {
		t.Fatalf("Mode() = %v", r.Mode())
	}

	claims := bearerClaims("user-9")
	claims["roles"] = "Admin"
	ac, err := r.Resolve(context.Background(), Credential{Token: signHS256(t, claims)})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id, _ := ac.SubjectID(); id != "user-9" || !ac.HasRole("admin") {
		t.Errorf("context = %q %v", id, ac.Roles())
	}

	bad := authenticatedConfig()
	bad.JWT.Issuer = ""
	var ce *ConfigurationError
	if _, err := New(context.Background(), bad, deps); !errors.As(err, &ce) {
		t.Errorf("New(bad) error = %v, want *ConfigurationError", err)
	}
}
