package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolauth/auth"
	"github.com/jonwraymond/toolauth/dispatch"
	"github.com/jonwraymond/toolauth/health"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp builds the process wiring, runs fn and closes it.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, a)
}

type credentialFlags struct {
	token        string
	identifier   string
	name         string
	email        string
	organization string
	sessionID    string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.token, "token", "", "bearer or provider token (authenticated and oauth modes)")
	fs.StringVar(&f.identifier, "identifier", "", "client identifier (disabled mode)")
	fs.StringVar(&f.name, "name", "", "display name used on first contact in disabled mode")
	fs.StringVar(&f.email, "email", "", "email used on first contact in disabled mode")
	fs.StringVar(&f.organization, "organization", "", "organization used on first contact in disabled mode")
	fs.StringVar(&f.sessionID, "session-id", "", "client session id")
}

func (f *credentialFlags) credential() auth.Credential {
	return auth.Credential{
		Identifier: f.identifier,
		Token:      f.token,
		Profile: auth.Profile{
			Name:         f.name,
			Email:        f.email,
			Organization: f.organization,
			SessionID:    f.sessionID,
		},
	}
}

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the active mode",
		Long: `Resolve the authentication mode and build the validator for it.
Exits with code 2 when the configuration is inconsistent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"mode":         a.mode.String(),
					"store_driver": a.cfg.Store.Driver,
					"tools":        a.dispatcher.Registry().Names(),
				})
			})
		},
	}
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a credential into an identity",
		Example: `  toolauth resolve --config toolauth.yaml --identifier 3fa85f64-5717-4562-b3fc-2c963f66afa6 --name Ada --email ada@example.com
  toolauth resolve --config toolauth.yaml --token "$TOKEN"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ac, err := a.resolver.Resolve(ctx, creds.credential())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), viewOf(ac))
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

type decisionView struct {
	Tool     string `json:"tool"`
	Decision string `json:"decision"`
	Code     string `json:"code,omitempty"`
	Output   any    `json:"output,omitempty"`
}

func newAuthorizeCmd(opts *rootOptions) *cobra.Command {
	var (
		creds credentialFlags
		tool  string
	)
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Resolve a credential and invoke a demo tool",
		Long: `Run one invocation through identity resolution, the authorization gate
and the tool handler. The decision is audited. Exits with code 3 on denial.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.dispatcher.Invoke(ctx, tool, creds.credential(), nil)
				view := decisionView{Tool: tool, Decision: "allow", Output: out}
				if err != nil {
					view = decisionView{Tool: tool, Decision: "deny", Code: dispatch.DenialCode(err)}
				}
				if werr := writeJSON(cmd.OutOrStdout(), view); werr != nil {
					return werr
				}
				return err
			})
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&tool, "tool", "", "tool to invoke (see 'toolauth tools')")
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the identity store and identity provider",
		Long:  `Run every dependency check and print a report. Exits with code 4 when unhealthy.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				report := a.healthAggregator().Report(ctx)
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Healthy() {
					return errUnhealthy
				}
				return nil
			})
		},
	}
}

func (a *app) healthAggregator() *health.Aggregator {
	agg := health.NewAggregator()
	agg.Register(health.NewStoreChecker(a.store))

	switch a.mode {
	case auth.ModeAuthenticated:
		if url := a.cfg.Auth.JWT.JWKSURL; url != "" {
			agg.Register(health.NewEndpointChecker("jwks", url, a.httpClient))
		}
	case auth.ModeOAuth:
		o := a.cfg.Auth.OAuth
		switch {
		case o.IntrospectionEndpoint != "":
			agg.Register(health.NewEndpointChecker("introspection", o.IntrospectionEndpoint, a.httpClient))
		case o.JWKSURL != "":
			agg.Register(health.NewEndpointChecker("jwks", o.JWKSURL, a.httpClient))
		}
		if v, ok := a.resolver.Validator().(*auth.OAuthValidator); ok {
			agg.Register(health.NewCircuitChecker("provider_circuit", v.CircuitBreaker()))
		}
	}
	return agg
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent audit events from the sqlite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.events == nil {
					return fmt.Errorf("%w: audit history requires store.driver sqlite", errInvalidConfig)
				}
				events, err := a.events.RecentAuditEvents(ctx, limit)
				if err != nil {
					return err
				}
				out := make([]map[string]any, 0, len(events))
				for _, ev := range events {
					row := make(map[string]any)
					for _, f := range ev.Fields() {
						row[f.Key] = f.Value
					}
					out = append(out, row)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events, newest first")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the demo tool table and its requirements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := demoTools()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range registry.Names() {
				tool, _ := registry.Lookup(name)
				if _, err := fmt.Fprintf(w, "%-14s %-26s %s\n", name, tool.Requirement, tool.Description); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
