package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/resilience"
)

type introspectionServer struct {
	*httptest.Server

	mu        sync.Mutex
	lastForm  map[string]string
	lastBasic [2]string
}

func (s *introspectionServer) last() (map[string]string, [2]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm, s.lastBasic
}

func newIntrospectionServer(t *testing.T, status int, body map[string]any) *introspectionServer {
	t.Helper()
	s := &introspectionServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.lastForm = map[string]string{
			"token":         r.PostForm.Get("token"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
		}
		user, pass, _ := r.BasicAuth()
		s.lastBasic = [2]string{user, pass}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func activeResponse() map[string]any {
	return map[string]any{
		"active":    true,
		"sub":       "oid-7",
		"tenant_id": testTenant,
		"email":     "user@example.com",
		"scope":     "orders.read",
		"exp":       testNow.Add(time.Hour).Unix(),
	}
}

func TestIntrospectionVerifier_Active(t *testing.T) {
	srv := newIntrospectionServer(t, http.StatusOK, activeResponse())
	v := NewIntrospectionVerifier(IntrospectionConfig{
		Endpoint:     srv.URL,
		ClientID:     testClientID,
		ClientSecret: "s3cr3t",
		Now:          fixedClock,
	})

	pc, err := v.Verify(context.Background(), "opaque-token")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if pc.ObjectID != "oid-7" || pc.TenantID != testTenant || len(pc.Scopes) != 1 {
		t.Errorf("claims = %+v", pc)
	}
	form, basic := srv.last()
	if form["token"] != "opaque-token" {
		t.Errorf("token form value = %q", form["token"])
	}
	if basic != [2]string{testClientID, "s3cr3t"} {
		t.Errorf("basic auth = %v", basic)
	}
	if form["client_secret"] != "" {
		t.Error("client secret sent in the form with basic auth")
	}
}

func TestIntrospectionVerifier_ClientSecretPost(t *testing.T) {
	srv := newIntrospectionServer(t, http.StatusOK, activeResponse())
	v := NewIntrospectionVerifier(IntrospectionConfig{
		Endpoint:         srv.URL,
		ClientID:         testClientID,
		ClientSecret:     "s3cr3t",
		ClientAuthMethod: ClientSecretPost,
		Now:              fixedClock,
	})

	if _, err := v.Verify(context.Background(), "opaque-token"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	form, basic := srv.last()
	if form["client_id"] != testClientID || form["client_secret"] != "s3cr3t" {
		t.Errorf("form = %v", form)
	}
	if basic[0] != "" {
		t.Errorf("basic auth sent with client_secret_post: %v", basic)
	}
}

func TestIntrospectionVerifier_Rejections(t *testing.T) {
	expired := activeResponse()
	expired["exp"] = testNow.Add(-time.Minute).Unix()
	noSubject := activeResponse()
	delete(noSubject, "sub")

	tests := []struct {
		name string
		body map[string]any
		want error
	}{
		{"inactive", map[string]any{"active": false}, ErrTokenInactive},
		{"missing active", map[string]any{"sub": "oid-7"}, ErrTokenInactive},
		{"expired", expired, ErrTokenExpired},
		{"no subject", noSubject, ErrTokenRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntrospectionServer(t, http.StatusOK, tt.body)
			v := NewIntrospectionVerifier(IntrospectionConfig{Endpoint: srv.URL, ClientID: testClientID, Now: fixedClock})

			_, err := v.Verify(context.Background(), "opaque-token")
			if !resilience.IsPermanent(err) || !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want permanent %v", err, tt.want)
			}
		})
	}
}

func TestIntrospectionVerifier_AudienceAndIssuer(t *testing.T) {
	with := func(kv ...any) map[string]any {
		body := activeResponse()
		for i := 0; i < len(kv); i += 2 {
			body[kv[i].(string)] = kv[i+1]
		}
		return body
	}

	tests := []struct {
		name   string
		body   map[string]any
		reject bool
	}{
		{"no aud or iss", activeResponse(), false},
		{"aud matches", with("aud", testClientID, "iss", testIssuer), false},
		{"aud list includes client", with("aud", []any{"api://orders", testClientID}), false},
		{"client_id matches", with("client_id", testClientID), false},
		{"aud names another client", with("aud", "other-client"), true},
		{"aud list without client", with("aud", []any{"api://orders"}), true},
		{"client_id names another client", with("client_id", "other-client"), true},
		{"foreign issuer", with("aud", testClientID, "iss", "https://evil.example.com/"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntrospectionServer(t, http.StatusOK, tt.body)
			v := NewIntrospectionVerifier(IntrospectionConfig{
				Endpoint: srv.URL,
				ClientID: testClientID,
				Audience: testClientID,
				Issuer:   testIssuer,
				Now:      fixedClock,
			})

			_, err := v.Verify(context.Background(), "opaque-token")
			if !tt.reject {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if !resilience.IsPermanent(err) || !errors.Is(err, ErrTokenRejected) {
				t.Fatalf("Verify() error = %v, want permanent ErrTokenRejected", err)
			}

			o := newTestOAuth(v, identity.NewMemoryStore())
			_, err = o.Validate(context.Background(), Credential{Token: "opaque-token"})
			requireAuthReason(t, err, ReasonInvalidToken)
		})
	}
}

func TestIntrospectionVerifier_ProviderFailures(t *testing.T) {
	srv := newIntrospectionServer(t, http.StatusInternalServerError, map[string]any{"error": "boom"})
	v := NewIntrospectionVerifier(IntrospectionConfig{Endpoint: srv.URL, Now: fixedClock})

	_, err := v.Verify(context.Background(), "opaque-token")
	if !errors.Is(err, ErrIntrospectionFailed) || resilience.IsPermanent(err) {
		t.Errorf("Verify() on 500 error = %v, want transient ErrIntrospectionFailed", err)
	}

	closed := newIntrospectionServer(t, http.StatusOK, activeResponse())
	closed.Close()
	v = NewIntrospectionVerifier(IntrospectionConfig{Endpoint: closed.URL, Now: fixedClock})
	if _, err := v.Verify(context.Background(), "opaque-token"); !errors.Is(err, ErrIntrospectionFailed) {
		t.Errorf("Verify() on closed server error = %v", err)
	}
}
