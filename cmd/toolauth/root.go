package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolauth/auth"
	"github.com/jonwraymond/toolauth/dispatch"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration is invalid or inconsistent.
	ExitCodeConfig = 2
	// ExitCodeDenied indicates the caller was not authenticated or authorized.
	ExitCodeDenied = 3
	// ExitCodeUnhealthy indicates a dependency check failed.
	ExitCodeUnhealthy = 4
)

var (
	errInvalidConfig = errors.New("invalid configuration")
	errUnhealthy     = errors.New("unhealthy")
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "toolauth",
		Short: "Resolve identities and authorize tool calls",
		Long: `toolauth loads the authentication configuration of a tool server and
exercises it: the active mode is resolved once, credentials are turned
into identities and every decision against the demo tool table is audited.

Configuration is read from --config (YAML) and TOOLAUTH_* environment
variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "toolauth version %s\n" .Version}}`)
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")

	cmd.AddCommand(
		newCheckConfigCmd(opts),
		newResolveCmd(opts),
		newAuthorizeCmd(opts),
		newHealthCmd(opts),
		newAuditCmd(opts),
		newToolsCmd(),
	)
	return cmd
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "toolauth: %v\n", err)
		return exitCode(err)
	}
	return ExitCodeSuccess
}

// exitCode maps an error to a semantic exit code for scripting.
func exitCode(err error) int {
	var cfgErr *auth.ConfigurationError
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, errInvalidConfig), errors.As(err, &cfgErr):
		return ExitCodeConfig
	case errors.Is(err, errUnhealthy):
		return ExitCodeUnhealthy
	}

	switch dispatch.DenialCode(err) {
	case dispatch.CodeUnauthenticated, dispatch.CodeForbidden, dispatch.CodeNotFound:
		return ExitCodeDenied
	default:
		return ExitCodeError
	}
}
