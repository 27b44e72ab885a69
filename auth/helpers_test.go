package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/toolauth/identity"
)

const (
	testGUID     = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	testIssuer   = "https://issuer.example.com"
	testAudience = "toolauth"
	testSecret   = "test-signing-secret-0123456789abcdef"
	testClientID = "client-123"
	testTenant   = "tenant-a"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func signHS256(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func bearerClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   sub,
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
		"email": sub + "@example.com",
		"name":  "User " + sub,
	}
}

type rsaTestKey struct {
	kid string
	key *rsa.PrivateKey
}

func newRSAKey(t *testing.T, kid string) *rsaTestKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	return &rsaTestKey{kid: kid, key: key}
}

func (k *rsaTestKey) jwk() map[string]any {
	return map[string]any{
		"kty": "RSA",
		"kid": k.kid,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(k.key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.key.E)).Bytes()),
	}
}

func (k *rsaTestKey) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid
	signed, err := token.SignedString(k.key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

// jwksServer serves a mutable key set and counts requests.
type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool

	mu   sync.Mutex
	keys []map[string]any
}

func newJWKSServer(t *testing.T, keys ...map[string]any) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: keys}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		s.mu.Lock()
		body := map[string]any{"keys": s.keys}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys ...map[string]any) {
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
}

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (s failingStore) FindDisabled(context.Context, string) (*identity.DisabledIdentity, bool, error) {
	return nil, false, s.err
}

func (s failingStore) FindOrCreateDisabled(context.Context, identity.DisabledProfile) (*identity.DisabledIdentity, bool, error) {
	return nil, false, s.err
}

func (s failingStore) UpsertAuthenticated(context.Context, identity.AuthenticatedProfile, *identity.AuditIDIssuer) (*identity.AuthenticatedIdentity, bool, error) {
	return nil, false, s.err
}

func (s failingStore) UpsertOAuth(context.Context, identity.OAuthProfile, *identity.AuditIDIssuer) (*identity.OAuthIdentity, bool, error) {
	return nil, false, s.err
}

func (s failingStore) Ping(context.Context) error { return s.err }
func (s failingStore) Close() error               { return nil }

func requireAuthReason(t *testing.T, err error, want AuthenticationReason) *AuthenticationError {
	t.Helper()
	ae, ok := err.(*AuthenticationError)
	if !ok {
		t.Fatalf("error = %T(%v), want *AuthenticationError", err, err)
	}
	if ae.Reason != want {
		t.Fatalf("Reason = %q, want %q (err: %v)", ae.Reason, want, err)
	}
	return ae
}
