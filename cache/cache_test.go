package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCache(p Policy) (*MemoryCache, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCache(p)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key  string
		want error
	}{
		{"claims:oauth:abc", nil},
		{"", ErrInvalidKey},
		{"   ", ErrInvalidKey},
		{"a\nb", ErrInvalidKey},
		{strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
			t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.want)
		}
	}
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	c, now := newTestCache(Policy{DefaultTTL: time.Minute})
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := c.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	*now = now.Add(time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() after expiry ok = true")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after lazy removal", c.Len())
	}
}

func TestMemoryCache_MaxTTLClamp(t *testing.T) {
	c, now := newTestCache(Policy{DefaultTTL: time.Minute, MaxTTL: 2 * time.Minute})
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), time.Hour)
	*now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry outlived MaxTTL")
	}
}

func TestMemoryCache_NoCache(t *testing.T) {
	c, _ := newTestCache(NoCachePolicy())
	_ = c.Set(context.Background(), "k", []byte("v"), 0)
	if c.Len() != 0 {
		t.Error("NoCachePolicy stored an entry")
	}
}

func TestMemoryCache_CopiesValue(t *testing.T) {
	c, _ := newTestCache(DefaultPolicy())
	v := []byte("abc")
	_ = c.Set(context.Background(), "k", v, 0)
	v[0] = 'x'
	if got, _ := c.Get(context.Background(), "k"); string(got) != "abc" {
		t.Errorf("Get() = %q, want abc", got)
	}
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	c, _ := newTestCache(Policy{DefaultTTL: time.Hour, MaxEntries: 2})
	ctx := context.Background()

	_ = c.Set(ctx, "soon", []byte("1"), time.Minute)
	_ = c.Set(ctx, "late", []byte("2"), time.Hour)
	_ = c.Set(ctx, "new", []byte("3"), time.Hour)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get(ctx, "soon"); ok {
		t.Error("entry closest to expiry should be evicted")
	}
	if _, ok := c.Get(ctx, "new"); !ok {
		t.Error("new entry missing")
	}
}

func TestMemoryCache_InvalidKey(t *testing.T) {
	c, _ := newTestCache(DefaultPolicy())
	if err := c.Set(context.Background(), "", []byte("v"), 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set(\"\") error = %v", err)
	}
	if err := c.Delete(context.Background(), "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestPolicy_TTLUntil(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := Policy{DefaultTTL: time.Minute, MaxTTL: 5 * time.Minute}

	tests := []struct {
		name   string
		expiry time.Time
		want   time.Duration
	}{
		{"no expiry uses default", time.Time{}, time.Minute},
		{"expiry before max", now.Add(90 * time.Second), 90 * time.Second},
		{"expiry after max", now.Add(time.Hour), 5 * time.Minute},
		{"already expired", now.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.TTLUntil(tt.expiry, now); got != tt.want {
				t.Errorf("TTLUntil() = %v, want %v", got, tt.want)
			}
		})
	}

	if !DefaultPolicy().ShouldCache() || NoCachePolicy().ShouldCache() {
		t.Error("ShouldCache() mismatch")
	}
}

func TestTokenKeyer(t *testing.T) {
	k := NewTokenKeyer()
	a, err := k.Key("oauth", "token-a")
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	again, _ := k.Key("oauth", "token-a")
	b, _ := k.Key("oauth", "token-b")

	if a != again {
		t.Error("Key() not deterministic")
	}
	if a == b {
		t.Error("different tokens produced the same key")
	}
	if strings.Contains(a, "token-a") || !strings.HasPrefix(a, "claims:oauth:") {
		t.Errorf("Key() = %q", a)
	}
	if _, err := k.Key("oauth", ""); err == nil {
		t.Error("Key(empty) error = nil")
	}
}
