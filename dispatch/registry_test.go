package dispatch

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/jonwraymond/toolauth/auth"
)

func echo(_ context.Context, _ auth.AuthenticationContext, input any) (any, error) {
	return input, nil
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(
		Tool{Name: "purge_orders", Requirement: auth.RequireAnyRole("Admin"), Handler: echo},
		Tool{Name: " ping ", Requirement: auth.AllowAnonymous(), Handler: echo},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := r.Names(); !slices.Equal(got, []string{"ping", "purge_orders"}) {
		t.Errorf("Names() = %v", got)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d", r.Len())
	}

	req, ok := r.Requirement("purge_orders")
	if !ok || !slices.Equal(req.Roles(), []string{"Admin"}) {
		t.Errorf("Requirement(purge_orders) = %v, %v", req, ok)
	}
	if _, ok := r.Lookup("ping"); !ok {
		t.Error("Lookup(ping) not found after trimming")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) found")
	}

	names := r.Names()
	names[0] = "mutated"
	if r.Names()[0] != "ping" {
		t.Error("Names() exposes internal state")
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		tools []Tool
	}{
		{"empty name", []Tool{{Name: " ", Requirement: auth.AllowAnonymous(), Handler: echo}}},
		{"no handler", []Tool{{Name: "ping", Requirement: auth.AllowAnonymous()}}},
		{"zero requirement", []Tool{{Name: "ping", Handler: echo}}},
		{"empty role set", []Tool{{Name: "ping", Requirement: auth.RequireAnyRole(), Handler: echo}}},
		{"duplicate", []Tool{
			{Name: "ping", Requirement: auth.AllowAnonymous(), Handler: echo},
			{Name: "ping", Requirement: auth.RequireAnyRole("Admin"), Handler: echo},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.tools...); !errors.Is(err, ErrInvalidTool) {
				t.Errorf("NewRegistry() error = %v, want ErrInvalidTool", err)
			}
		})
	}
}
