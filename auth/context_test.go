package auth

import (
	"context"
	"slices"
	"testing"

	"github.com/jonwraymond/toolauth/identity"
)

func TestAnonymous(t *testing.T) {
	ac := Anonymous()
	if ac.IsAuthenticated() {
		t.Error("IsAuthenticated() = true")
	}
	if id, ok := ac.SubjectID(); ok || id != "" {
		t.Errorf("SubjectID() = %q, %v", id, ok)
	}
	if ac.DisplayName() != AnonymousDisplayName {
		t.Errorf("DisplayName() = %q", ac.DisplayName())
	}
	if len(ac.Roles()) != 0 || ac.HasRole("Reader") {
		t.Errorf("Roles() = %v", ac.Roles())
	}
	if ac.AuditID() != "" || ac.Mode() != 0 {
		t.Errorf("AuditID() = %q, Mode() = %v", ac.AuditID(), ac.Mode())
	}
}

func TestBuildContext_Disabled(t *testing.T) {
	rec := &identity.DisabledIdentity{ID: testGUID, Name: "Ada", Email: "ada@example.com"}

	ac := BuildContext(rec, ModeDisabled)
	if !ac.IsAuthenticated() {
		t.Fatal("IsAuthenticated() = false")
	}
	if id, ok := ac.SubjectID(); !ok || id != testGUID {
		t.Errorf("SubjectID() = %q, %v", id, ok)
	}
	if ac.DisplayName() != "Ada" {
		t.Errorf("DisplayName() = %q", ac.DisplayName())
	}
	if ac.AuditID() != testGUID {
		t.Errorf("AuditID() = %q, want the identifier", ac.AuditID())
	}
	if len(ac.Roles()) != 0 {
		t.Errorf("Roles() = %v, want none", ac.Roles())
	}
}

func TestBuildContext_Authenticated(t *testing.T) {
	rec := &identity.AuthenticatedIdentity{
		UserID:  "user-1",
		AuditID: "audit-1",
		Roles:   []string{"writer", " Admin ", "admin", ""},
	}

	ac := BuildContext(rec, ModeAuthenticated)
	if got := ac.Roles(); !slices.Equal(got, []string{"Admin", "writer"}) {
		t.Errorf("Roles() = %v", got)
	}
	if ac.DisplayName() != "user-1" {
		t.Errorf("DisplayName() = %q, want subject id fallback", ac.DisplayName())
	}
	if ac.AuditID() != "audit-1" || ac.Mode() != ModeAuthenticated {
		t.Errorf("AuditID() = %q, Mode() = %v", ac.AuditID(), ac.Mode())
	}
	if !ac.HasRole("ADMIN") || !ac.HasAnyRole("Reader", "Writer") || ac.HasAnyRole("Reader") {
		t.Error("role checks are not case-insensitive")
	}

	roles := ac.Roles()
	roles[0] = "mutated"
	if ac.Roles()[0] != "Admin" {
		t.Error("Roles() exposes internal state")
	}
}

func TestBuildContext_OAuth(t *testing.T) {
	rec := &identity.OAuthIdentity{
		ObjectID:    "oid-1",
		AuditID:     "audit-2",
		DisplayName: "Grace",
		Scopes:      []string{"orders.read", "orders.admin", "unmapped"},
	}
	roles := NewScopeRoleMap(map[string][]string{
		"orders.read":  {"Reader"},
		"Orders.Admin": {"Admin", "Reader"},
	})

	ac := BuildContext(rec, ModeOAuth, WithScopeRoles(roles))
	if got := ac.Roles(); !slices.Equal(got, []string{"Admin", "Reader"}) {
		t.Errorf("Roles() = %v", got)
	}

	bare := BuildContext(rec, ModeOAuth)
	if len(bare.Roles()) != 0 {
		t.Errorf("Roles() without scope map = %v", bare.Roles())
	}
}

func TestBuildContext_PanicsOnMismatch(t *testing.T) {
	tests := []struct {
		name string
		rec  identity.Record
		mode Mode
	}{
		{"nil record", nil, ModeDisabled},
		{"variant mismatch", &identity.DisabledIdentity{ID: testGUID}, ModeOAuth},
		{"invalid mode", &identity.DisabledIdentity{ID: testGUID}, Mode(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("BuildContext() did not panic")
				}
			}()
			BuildContext(tt.rec, tt.mode)
		})
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()).IsAuthenticated() {
		t.Error("FromContext(empty) is authenticated")
	}
	if SubjectFromContext(context.Background()) != "" {
		t.Error("SubjectFromContext(empty) != \"\"")
	}

	ac := BuildContext(&identity.AuthenticatedIdentity{UserID: "user-1", AuditID: "a"}, ModeAuthenticated)
	ctx := WithAuthenticationContext(context.Background(), ac)
	if got := SubjectFromContext(ctx); got != "user-1" {
		t.Errorf("SubjectFromContext() = %q", got)
	}
	if FromContext(ctx).Mode() != ModeAuthenticated {
		t.Error("FromContext() lost the mode")
	}
}
