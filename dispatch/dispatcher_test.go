package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolauth/audit"
	"github.com/jonwraymond/toolauth/auth"
	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/observe"
)

const (
	clientGUID = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	issuer     = "https://issuer.example.com"
	audience   = "toolauth"
	hmacSecret = "dispatch-test-secret-0123456789abcdef"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// testTools is the static table used by every scenario.
func testTools(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		Tool{Name: "ping", Requirement: auth.AllowAnonymous(), Handler: func(context.Context, auth.AuthenticationContext, any) (any, error) {
			return "pong", nil
		}},
		Tool{Name: "whoami", Requirement: auth.AllowAnonymous(), Handler: func(ctx context.Context, ac auth.AuthenticationContext, _ any) (any, error) {
			subject, _ := ac.SubjectID()
			if auth.SubjectFromContext(ctx) != subject {
				return nil, errors.New("context and argument disagree")
			}
			return ac.DisplayName(), nil
		}},
		Tool{Name: "purge_orders", Requirement: auth.RequireAnyRole("Admin"), Handler: echo},
		Tool{Name: "fail", Requirement: auth.AllowAnonymous(), Handler: func(context.Context, auth.AuthenticationContext, any) (any, error) {
			return nil, errors.New("orders backend unreachable")
		}},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

type harness struct {
	dispatcher *Dispatcher
	store      *identity.MemoryStore
	audit      *audit.Recorder
	spans      *tracetest.SpanRecorder
	logs       *bytes.Buffer
}

func newHarness(t *testing.T, cfg config.Auth, deps auth.Dependencies) *harness {
	t.Helper()
	store := identity.NewMemoryStore()
	deps.Store = store
	deps.Now = clock

	resolver, err := auth.New(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("auth.New() error = %v", err)
	}

	rec := audit.NewRecorder()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	var logs bytes.Buffer
	logger := observe.NewLoggerWithWriter("debug", &logs)
	mw := observe.NewMiddleware(observe.NewTracer(tp.Tracer("test")), observe.NopMetrics(), logger, Classifier())

	d, err := New(testTools(t), resolver, auth.NewGate(resolver.Mode(), rec, auth.WithGateClock(clock)),
		WithMiddleware(mw), WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{dispatcher: d, store: store, audit: rec, spans: spans, logs: &logs}
}

func disabledMode() config.Auth {
	return config.Auth{Mode: "disabled", GUIDValidation: config.GUIDValidation{Enabled: true, Format: "canonical"}}
}

func authenticatedMode() config.Auth {
	return config.Auth{Mode: "authenticated", JWT: config.JWT{
		Issuer:        issuer,
		Audience:      audience,
		SigningKeyRef: "secretref:env:UNUSED_IN_TESTS",
	}}
}

func oauthMode() config.Auth {
	return config.Auth{Mode: "oauth", OAuth: config.OAuth{
		TenantAllowlist: []string{"tenant-a"},
		ClientID:        "client-123",
		Issuer:          issuer,
		JWKSURL:         "https://login.example.com/keys",
		ScopeToRoleMap:  map[string][]string{"orders.admin": {"Admin"}},
	}}
}

func signToken(t *testing.T, sub string, exp time.Time, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"aud":   audience,
		"sub":   sub,
		"iat":   now.Add(-2 * time.Hour).Unix(),
		"exp":   exp.Unix(),
		"roles": roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(hmacSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func bearerDeps() auth.Dependencies {
	return auth.Dependencies{KeyProvider: auth.NewStaticKeyProvider([]byte(hmacSecret))}
}

func providerDeps(tenant string, scopes ...string) auth.Dependencies {
	return auth.Dependencies{Verifier: auth.TokenVerifierFunc(func(context.Context, string) (*auth.ProviderClaims, error) {
		return &auth.ProviderClaims{
			ObjectID:  "oid-1",
			TenantID:  tenant,
			Email:     "grace@example.com",
			Name:      "Grace Hopper",
			Scopes:    scopes,
			ExpiresAt: now.Add(time.Hour),
		}, nil
	})}
}

func lastEvent(t *testing.T, rec *audit.Recorder) audit.Event {
	t.Helper()
	ev, ok := rec.Last()
	if !ok {
		t.Fatal("no audit event recorded")
	}
	return ev
}

// Disabled mode, new client: the record is created, anonymous tools run and
// role-gated tools are refused.
func TestScenario_DisabledNewClient(t *testing.T) {
	h := newHarness(t, disabledMode(), auth.Dependencies{})
	ctx := context.Background()
	cred := auth.Credential{
		Identifier: clientGUID,
		Profile:    auth.Profile{Name: "Ada Lovelace", Email: "ada@example.com"},
	}

	out, err := h.dispatcher.Invoke(ctx, "whoami", cred, nil)
	if err != nil {
		t.Fatalf("Invoke(whoami) error = %v", err)
	}
	if out != "Ada Lovelace" {
		t.Errorf("whoami = %v", out)
	}
	if h.store.Len(identity.VariantDisabled) != 1 {
		t.Errorf("store holds %d disabled records, want 1", h.store.Len(identity.VariantDisabled))
	}

	_, err = h.dispatcher.Invoke(ctx, "purge_orders", cred, nil)
	var authzErr *auth.AuthorizationError
	if !errors.As(err, &authzErr) || authzErr.Reason != auth.ReasonInsufficientRole {
		t.Fatalf("Invoke(purge_orders) error = %v, want InsufficientRole", err)
	}
	if DenialCode(err) != CodeForbidden {
		t.Errorf("DenialCode() = %q", DenialCode(err))
	}

	ev := lastEvent(t, h.audit)
	if ev.Decision != audit.DecisionDeny || ev.Subject() != clientGUID || ev.AuditID != clientGUID || ev.Mode != "disabled" {
		t.Errorf("audit event = %+v", ev)
	}
}

// Authenticated mode, expired token: the caller is refused and nothing is
// written to the store.
func TestScenario_AuthenticatedExpiredToken(t *testing.T) {
	h := newHarness(t, authenticatedMode(), bearerDeps())

	token := signToken(t, "user-1", now.Add(-time.Minute), "Admin")
	_, err := h.dispatcher.Invoke(context.Background(), "ping", auth.Credential{Token: token}, nil)

	var authnErr *auth.AuthenticationError
	if !errors.As(err, &authnErr) || authnErr.Reason != auth.ReasonInvalidToken {
		t.Fatalf("Invoke() error = %v, want InvalidToken", err)
	}
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired in chain", err)
	}
	if h.store.Len(identity.VariantAuthenticated) != 0 {
		t.Error("a record was written for an expired token")
	}
	if DenialCode(err) != CodeUnauthenticated {
		t.Errorf("DenialCode() = %q", DenialCode(err))
	}

	ev := lastEvent(t, h.audit)
	if ev.Decision != audit.DecisionDeny || ev.ReasonCode != "invalid_token" || ev.SubjectID != nil || ev.ToolName != "ping" {
		t.Errorf("audit event = %+v", ev)
	}
}

func TestScenario_AuthenticatedAdmin(t *testing.T) {
	h := newHarness(t, authenticatedMode(), bearerDeps())
	cred := auth.Credential{Token: signToken(t, "user-1", now.Add(time.Hour), "admin")}

	out, err := h.dispatcher.Invoke(context.Background(), "purge_orders", cred, "orders-2025")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != "orders-2025" {
		t.Errorf("output = %v", out)
	}
	ev := lastEvent(t, h.audit)
	if ev.Decision != audit.DecisionAllow || ev.ReasonCode != audit.ReasonGranted || ev.AuditID == "" {
		t.Errorf("audit event = %+v", ev)
	}
}

// OAuth mode, tenant outside the allow-list.
func TestScenario_OAuthTenantNotAllowed(t *testing.T) {
	h := newHarness(t, oauthMode(), providerDeps("tenant-z", "orders.admin"))

	_, err := h.dispatcher.Invoke(context.Background(), "ping", auth.Credential{Token: "provider-token"}, nil)
	var authnErr *auth.AuthenticationError
	if !errors.As(err, &authnErr) || authnErr.Reason != auth.ReasonTenantNotAllowed {
		t.Fatalf("Invoke() error = %v, want TenantNotAllowed", err)
	}
	if h.store.Len(identity.VariantOAuth) != 0 {
		t.Error("a record was written for a disallowed tenant")
	}
	if ev := lastEvent(t, h.audit); ev.ReasonCode != "tenant_not_allowed" {
		t.Errorf("ReasonCode = %q", ev.ReasonCode)
	}
}

func TestScenario_OAuthScopeRoles(t *testing.T) {
	h := newHarness(t, oauthMode(), providerDeps("tenant-a", "orders.admin", "profile"))

	if _, err := h.dispatcher.Invoke(context.Background(), "purge_orders", auth.Credential{Token: "provider-token"}, nil); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	h = newHarness(t, oauthMode(), providerDeps("tenant-a", "profile"))
	_, err := h.dispatcher.Invoke(context.Background(), "purge_orders", auth.Credential{Token: "provider-token"}, nil)
	if DenialCode(err) != CodeForbidden {
		t.Errorf("unmapped scope: DenialCode() = %q, err = %v", DenialCode(err), err)
	}
}

func TestInvoke_Anonymous(t *testing.T) {
	h := newHarness(t, authenticatedMode(), bearerDeps())
	ctx := context.Background()

	out, err := h.dispatcher.Invoke(ctx, "ping", auth.Credential{}, nil)
	if err != nil || out != "pong" {
		t.Fatalf("Invoke(ping) = %v, %v", out, err)
	}
	if ev := lastEvent(t, h.audit); ev.ReasonCode != audit.ReasonAnonymousAllowed || ev.SubjectID != nil {
		t.Errorf("audit event = %+v", ev)
	}

	_, err = h.dispatcher.Invoke(ctx, "purge_orders", auth.Credential{}, nil)
	if DenialCode(err) != CodeUnauthenticated {
		t.Errorf("DenialCode() = %q, err = %v", DenialCode(err), err)
	}
	if ev := lastEvent(t, h.audit); ev.ReasonCode != string(auth.ReasonNotAuthenticated) {
		t.Errorf("ReasonCode = %q", ev.ReasonCode)
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	h := newHarness(t, disabledMode(), auth.Dependencies{})

	_, err := h.dispatcher.Invoke(context.Background(), "drop_tables", auth.Credential{Identifier: "not-a-guid"}, nil)
	if !errors.Is(err, ErrUnknownTool) || DenialCode(err) != CodeNotFound {
		t.Fatalf("Invoke() error = %v", err)
	}

	ev := lastEvent(t, h.audit)
	if ev.ReasonCode != audit.ReasonUnknownTool || ev.ToolName != "drop_tables" || ev.Decision != audit.DecisionDeny {
		t.Errorf("audit event = %+v", ev)
	}
	if len(h.audit.Events()) != 1 {
		t.Errorf("recorded %d events, want 1", len(h.audit.Events()))
	}
}

func TestInvoke_HandlerFailureIsInternal(t *testing.T) {
	h := newHarness(t, disabledMode(), auth.Dependencies{})

	_, err := h.dispatcher.Invoke(context.Background(), "fail", auth.Credential{}, nil)
	if err == nil {
		t.Fatal("Invoke(fail) error = nil")
	}
	if code := DenialCode(err); code != CodeInternal {
		t.Errorf("DenialCode() = %q", code)
	}
	if !strings.Contains(h.logs.String(), `"level":"error"`) {
		t.Errorf("handler failure not logged at error level:\n%s", h.logs.String())
	}
}

func TestInvoke_SpanAttributes(t *testing.T) {
	h := newHarness(t, authenticatedMode(), bearerDeps())
	cred := auth.Credential{Token: signToken(t, "user-1", now.Add(time.Hour), "Reader")}

	_, _ = h.dispatcher.Invoke(context.Background(), "purge_orders", cred, nil)

	ended := h.spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended %d spans, want 1", len(ended))
	}
	span := ended[0]
	if span.Name() != "toolauth.invoke.purge_orders" {
		t.Errorf("span name = %q", span.Name())
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		observe.AttrAuthMode:     "authenticated",
		observe.AttrAuthDecision: "deny",
		observe.AttrAuthReason:   "insufficient_role",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("span attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
	if attrs[observe.AttrAuthAuditID] == "" {
		t.Error("span has no audit id")
	}
	if !strings.Contains(h.logs.String(), `"denial_code":"forbidden"`) {
		t.Errorf("denial not logged with its code:\n%s", h.logs.String())
	}
}

// Concurrent first contact through the dispatcher yields one record.
func TestInvoke_ConcurrentFirstContact(t *testing.T) {
	h := newHarness(t, authenticatedMode(), bearerDeps())
	token := signToken(t, "user-1", now.Add(time.Hour))

	var g errgroup.Group
	for i := range 32 {
		g.Go(func() error {
			if _, err := h.dispatcher.Invoke(context.Background(), "whoami", auth.Credential{Token: token}, i); err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if h.store.Len(identity.VariantAuthenticated) != 1 {
		t.Errorf("store holds %d records, want 1", h.store.Len(identity.VariantAuthenticated))
	}
	auditIDs := map[string]struct{}{}
	for _, ev := range h.audit.Events() {
		auditIDs[ev.AuditID] = struct{}{}
	}
	if len(auditIDs) != 1 {
		t.Errorf("saw %d audit ids, want 1", len(auditIDs))
	}
}

func TestDenialCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unknown tool", fmt.Errorf("%w: %q", ErrUnknownTool, "x"), CodeNotFound},
		{"authentication", &auth.AuthenticationError{Reason: auth.ReasonProviderUnavailable}, CodeUnauthenticated},
		{"not authenticated", &auth.AuthorizationError{Reason: auth.ReasonNotAuthenticated}, CodeUnauthenticated},
		{"insufficient role", &auth.AuthorizationError{Reason: auth.ReasonInsufficientRole}, CodeForbidden},
		{"invalid requirement", &auth.AuthorizationError{Reason: auth.ReasonInvalidRequirement}, CodeForbidden},
		{"store failure", &identity.StoreError{Reason: identity.ReasonPersistenceFailure}, CodeInternal},
		{"context", context.Canceled, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DenialCode(tt.err); got != tt.want {
				t.Errorf("DenialCode(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	resolver := auth.NewResolver(auth.NewDisabledValidator(auth.DisabledConfig{Store: identity.NewMemoryStore()}))
	gate := auth.NewGate(auth.ModeDisabled, nil)
	registry := testTools(t)

	if _, err := New(nil, resolver, gate); err == nil {
		t.Error("New(nil registry) error = nil")
	}
	if _, err := New(registry, nil, gate); err == nil {
		t.Error("New(nil resolver) error = nil")
	}
	if _, err := New(registry, resolver, nil); err == nil {
		t.Error("New(nil gate) error = nil")
	}

	d, err := New(registry, resolver, gate)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if out, err := d.Invoke(context.Background(), "ping", auth.Credential{}, nil); err != nil || out != "pong" {
		t.Errorf("Invoke() with defaults = %v, %v", out, err)
	}
}
