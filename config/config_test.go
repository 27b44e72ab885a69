package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolauth.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Auth.GUIDValidation.Format != "canonical" {
		t.Errorf("GUIDValidation.Format = %q", cfg.Auth.GUIDValidation.Format)
	}
	if cfg.Auth.OAuth.Timeout != DefaultProviderTimeout || cfg.Auth.OAuth.MaxAttempts != DefaultProviderMaxAttempts {
		t.Errorf("OAuth timeout/attempts = %v/%d", cfg.Auth.OAuth.Timeout, cfg.Auth.OAuth.MaxAttempts)
	}
	if cfg.Auth.JWT.UserIDClaim != "sub" || cfg.Auth.AuditID.MaxAttempts != 5 {
		t.Errorf("JWT.UserIDClaim = %q, AuditID.MaxAttempts = %d", cfg.Auth.JWT.UserIDClaim, cfg.Auth.AuditID.MaxAttempts)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
auth:
  mode: oauth
  oauth:
    tenant_allowlist: [tenant-a, " tenant-b "]
    client_id: api://toolauth
    issuer: https://login.example.com/tenant-a/v2.0
    jwks_url: https://login.example.com/keys
    timeout: 2s
    scope_to_role_map:
      orders.read: [Reader]
      orders.admin: [Admin, Reader]
store:
  driver: sqlite
  path: /var/lib/toolauth/identity.db
observe:
  log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Mode != "oauth" {
		t.Errorf("Mode = %q", cfg.Auth.Mode)
	}
	if !slices.Equal(cfg.Auth.OAuth.TenantAllowlist, []string{"tenant-a", "tenant-b"}) {
		t.Errorf("TenantAllowlist = %v", cfg.Auth.OAuth.TenantAllowlist)
	}
	if cfg.Auth.OAuth.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v", cfg.Auth.OAuth.Timeout)
	}
	if got := cfg.Auth.OAuth.ScopeToRoleMap["orders.admin"]; !slices.Equal(got, []string{"Admin", "Reader"}) {
		t.Errorf("ScopeToRoleMap[orders.admin] = %v", got)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Observe.LogLevel != "debug" {
		t.Errorf("Store = %+v, Observe = %+v", cfg.Store, cfg.Observe)
	}

	policy := cfg.Auth.OAuth.ProviderPolicy()
	if policy.Timeout != 2*time.Second || policy.MaxAttempts != 2 || policy.CircuitMaxFailures != 5 ||
		policy.MaxConcurrent != DefaultProviderMaxConcurrent {
		t.Errorf("ProviderPolicy() = %+v", policy)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "auth:\n  mode: disabled\n")
	t.Setenv("TOOLAUTH_AUTH_MODE", "authenticated")
	t.Setenv("TOOLAUTH_AUTH_JWT_ISSUER", "https://issuer.example.com")
	t.Setenv("TOOLAUTH_AUTH_OAUTH_TENANT_ALLOWLIST", "t1,t2")
	t.Setenv("TOOLAUTH_AUTH_GUID_VALIDATION_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Mode != "authenticated" {
		t.Errorf("Mode = %q, want env override", cfg.Auth.Mode)
	}
	if cfg.Auth.JWT.Issuer != "https://issuer.example.com" {
		t.Errorf("JWT.Issuer = %q", cfg.Auth.JWT.Issuer)
	}
	if !slices.Equal(cfg.Auth.OAuth.TenantAllowlist, []string{"t1", "t2"}) {
		t.Errorf("TenantAllowlist = %v", cfg.Auth.OAuth.TenantAllowlist)
	}
	if !cfg.Auth.GUIDValidation.Enabled {
		t.Error("GUIDValidation.Enabled = false")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"sqlite without path", "store:\n  driver: sqlite\n", "store.path"},
		{"unknown driver", "store:\n  driver: postgres\n", "store.driver"},
		{"bad log level", "observe:\n  log_level: trace\n", "observe"},
		{"bad exporter", "observe:\n  tracing_exporter: zipkin\n", "observe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing file) error = nil")
	}
}

func TestObserveConfig(t *testing.T) {
	cfg := Config{Observe: Observe{ServiceName: "svc", LogLevel: "warn", TracingExporter: "stdout", SamplePct: 0.5, MetricsExporter: "none"}}
	oc := cfg.ObserveConfig()
	if !oc.Tracing.Enabled || oc.Metrics.Enabled || oc.Logging.Level != "warn" {
		t.Errorf("ObserveConfig() = %+v", oc)
	}
}
