// Package config loads toolauth configuration from an optional YAML file and
// the environment using Viper.
//
// Environment variables use the TOOLAUTH_ prefix with "." replaced by "_",
// so auth.jwt.issuer is TOOLAUTH_AUTH_JWT_ISSUER. List values read from the
// environment are comma separated. Key material is never held here directly:
// signing_key_ref and client_secret_ref are secret references resolved at
// startup (see package secret).
//
// The returned Config is read-only after Load; it is passed by value into the
// mode resolver and validators.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/toolauth/observe"
	"github.com/jonwraymond/toolauth/resilience"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "TOOLAUTH"

// Config is the process-wide configuration.
type Config struct {
	Auth    Auth    `mapstructure:"auth"`
	Store   Store   `mapstructure:"store"`
	Observe Observe `mapstructure:"observe"`
	Secrets Secrets `mapstructure:"secrets"`
}

// Auth selects the authentication mode and carries per-mode settings.
type Auth struct {
	// Mode is one of disabled, authenticated or oauth (aliases accepted).
	Mode           string         `mapstructure:"mode"`
	GUIDValidation GUIDValidation `mapstructure:"guid_validation"`
	JWT            JWT            `mapstructure:"jwt"`
	OAuth          OAuth          `mapstructure:"oauth"`
	AuditID        AuditID        `mapstructure:"audit_id"`
}

// GUIDValidation configures client identifier checks in disabled mode.
type GUIDValidation struct {
	Enabled bool `mapstructure:"enabled"`
	// Format is canonical, v4 or any.
	Format string `mapstructure:"format"`
}

// JWT configures bearer token validation in authenticated mode.
type JWT struct {
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
	// SigningKeyRef resolves to an HMAC secret or PEM encoded public key.
	SigningKeyRef string `mapstructure:"signing_key_ref"`
	// JWKSURL is an alternative key source to SigningKeyRef.
	JWKSURL     string        `mapstructure:"jwks_url"`
	Algorithms  []string      `mapstructure:"algorithms"`
	UserIDClaim string        `mapstructure:"user_id_claim"`
	RolesClaim  string        `mapstructure:"roles_claim"`
	EmailClaim  string        `mapstructure:"email_claim"`
	NameClaim   string        `mapstructure:"name_claim"`
	Leeway      time.Duration `mapstructure:"leeway"`
}

// OAuth configures federated provider tokens in oauth mode.
type OAuth struct {
	TenantAllowlist []string `mapstructure:"tenant_allowlist"`
	ClientID        string   `mapstructure:"client_id"`
	ClientSecretRef string   `mapstructure:"client_secret_ref"`

	// Issuer and JWKSURL enable signature verification with provider keys.
	Issuer  string `mapstructure:"issuer"`
	JWKSURL string `mapstructure:"jwks_url"`

	// IntrospectionEndpoint enables RFC 7662 token introspection. It takes
	// precedence over JWKS verification when both are configured.
	IntrospectionEndpoint string `mapstructure:"introspection_endpoint"`

	// ScopeToRoleMap maps a granted scope to the roles it confers.
	ScopeToRoleMap map[string][]string `mapstructure:"scope_to_role_map"`

	Timeout             time.Duration `mapstructure:"timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	CircuitMaxFailures  int           `mapstructure:"circuit_max_failures"`
	CircuitResetTimeout time.Duration `mapstructure:"circuit_reset_timeout"`
	MaxConcurrent       int           `mapstructure:"max_concurrent"`

	// CacheTTL bounds how long verified claims are reused. Zero disables the
	// claims cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// AuditID configures audit id issuance.
type AuditID struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Store selects the identity store.
type Store struct {
	// Driver is memory or sqlite.
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file, or ":memory:".
	Path string `mapstructure:"path"`
}

// Observe configures logging, tracing and metrics.
type Observe struct {
	ServiceName     string  `mapstructure:"service_name"`
	LogLevel        string  `mapstructure:"log_level"`
	TracingExporter string  `mapstructure:"tracing_exporter"`
	SamplePct       float64 `mapstructure:"sample_pct"`
	MetricsExporter string  `mapstructure:"metrics_exporter"`
}

// Secrets configures secret reference resolution.
type Secrets struct {
	Strict      bool   `mapstructure:"strict"`
	FileBaseDir string `mapstructure:"file_base_dir"`
}

// Defaults for provider calls.
const (
	DefaultProviderTimeout       = 5 * time.Second
	DefaultProviderMaxAttempts   = 2
	DefaultProviderMaxConcurrent = 16
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("auth.mode", "")
	v.SetDefault("auth.guid_validation.enabled", false)
	v.SetDefault("auth.guid_validation.format", "canonical")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.signing_key_ref", "")
	v.SetDefault("auth.jwt.jwks_url", "")
	v.SetDefault("auth.jwt.algorithms", []string{})
	v.SetDefault("auth.jwt.user_id_claim", "sub")
	v.SetDefault("auth.jwt.roles_claim", "roles")
	v.SetDefault("auth.jwt.email_claim", "email")
	v.SetDefault("auth.jwt.name_claim", "name")
	v.SetDefault("auth.jwt.leeway", "30s")
	v.SetDefault("auth.oauth.tenant_allowlist", []string{})
	v.SetDefault("auth.oauth.client_id", "")
	v.SetDefault("auth.oauth.client_secret_ref", "")
	v.SetDefault("auth.oauth.issuer", "")
	v.SetDefault("auth.oauth.jwks_url", "")
	v.SetDefault("auth.oauth.introspection_endpoint", "")
	v.SetDefault("auth.oauth.timeout", DefaultProviderTimeout.String())
	v.SetDefault("auth.oauth.max_attempts", DefaultProviderMaxAttempts)
	v.SetDefault("auth.oauth.circuit_max_failures", 5)
	v.SetDefault("auth.oauth.circuit_reset_timeout", "30s")
	v.SetDefault("auth.oauth.max_concurrent", DefaultProviderMaxConcurrent)
	v.SetDefault("auth.oauth.cache_ttl", "1m")
	v.SetDefault("auth.oauth.leeway", "30s")
	v.SetDefault("auth.audit_id.max_attempts", 5)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("observe.service_name", "toolauth")
	v.SetDefault("observe.log_level", "info")
	v.SetDefault("observe.tracing_exporter", "none")
	v.SetDefault("observe.sample_pct", 1.0)
	v.SetDefault("observe.metrics_exporter", "none")
	v.SetDefault("secrets.strict", true)
	v.SetDefault("secrets.file_base_dir", "")
}

// Load reads path (if non-empty) and the environment into a Config and
// validates the non-auth sections. Auth consistency is checked by the mode
// resolver so that a misconfigured mode is reported as a configuration error
// of its own.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Auth.Mode = strings.TrimSpace(c.Auth.Mode)
	c.Auth.OAuth.TenantAllowlist = trimAll(c.Auth.OAuth.TenantAllowlist)
	c.Auth.JWT.Algorithms = trimAll(c.Auth.JWT.Algorithms)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the store, observe and secrets sections.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("config: store.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	oc := c.ObserveConfig()
	if err := oc.Validate(); err != nil {
		return fmt.Errorf("config: observe: %w", err)
	}
	return nil
}

// ObserveConfig converts the observe section for observe.NewObserver.
func (c *Config) ObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: c.Observe.ServiceName,
		Tracing: observe.TracingConfig{
			Enabled:   c.Observe.TracingExporter != "" && c.Observe.TracingExporter != "none",
			Exporter:  c.Observe.TracingExporter,
			SamplePct: c.Observe.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Observe.MetricsExporter != "" && c.Observe.MetricsExporter != "none",
			Exporter: c.Observe.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Observe.LogLevel,
		},
	}
}

// ProviderPolicy returns the resilience policy for identity provider calls.
func (o OAuth) ProviderPolicy() resilience.Policy {
	return resilience.Policy{
		Timeout:             o.Timeout,
		MaxAttempts:         o.MaxAttempts,
		CircuitMaxFailures:  o.CircuitMaxFailures,
		CircuitResetTimeout: o.CircuitResetTimeout,
		MaxConcurrent:       o.MaxConcurrent,
	}
}
