package main

import (
	"context"

	"github.com/jonwraymond/toolauth/auth"
	"github.com/jonwraymond/toolauth/dispatch"
)

// Demo role names.
const (
	roleReader = "Reader"
	roleAdmin  = "Admin"
)

// contextView is the printable form of an AuthenticationContext.
type contextView struct {
	Authenticated bool     `json:"authenticated"`
	Mode          string   `json:"mode,omitempty"`
	SubjectID     string   `json:"subject_id,omitempty"`
	DisplayName   string   `json:"display_name"`
	AuditID       string   `json:"audit_id,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

func viewOf(ac auth.AuthenticationContext) contextView {
	v := contextView{
		Authenticated: ac.IsAuthenticated(),
		DisplayName:   ac.DisplayName(),
		AuditID:       ac.AuditID(),
		Roles:         ac.Roles(),
	}
	if ac.IsAuthenticated() {
		v.Mode = ac.Mode().String()
		v.SubjectID, _ = ac.SubjectID()
	}
	return v
}

// demoTools is the static tool table the authorize command runs against.
func demoTools() (*dispatch.Registry, error) {
	return dispatch.NewRegistry(
		dispatch.Tool{
			Name:        "ping",
			Description: "Liveness check open to every caller",
			Requirement: auth.AllowAnonymous(),
			Handler: func(context.Context, auth.AuthenticationContext, any) (any, error) {
				return "pong", nil
			},
		},
		dispatch.Tool{
			Name:        "whoami",
			Description: "Describe the calling identity",
			Requirement: auth.AllowAnonymous(),
			Handler: func(_ context.Context, ac auth.AuthenticationContext, _ any) (any, error) {
				return viewOf(ac), nil
			},
		},
		dispatch.Tool{
			Name:        "list_orders",
			Description: "List recent orders",
			Requirement: auth.RequireAnyRole(roleReader, roleAdmin),
			Handler: func(context.Context, auth.AuthenticationContext, any) (any, error) {
				return []string{"order-1001", "order-1002"}, nil
			},
		},
		dispatch.Tool{
			Name:        "purge_orders",
			Description: "Delete archived orders",
			Requirement: auth.RequireAnyRole(roleAdmin),
			Handler: func(_ context.Context, ac auth.AuthenticationContext, _ any) (any, error) {
				return map[string]any{"purged": 0, "by": ac.AuditID()}, nil
			},
		},
	)
}
