package cache

import "time"

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is used when Set is called without a TTL.
	// If zero, such entries are not cached.
	DefaultTTL time.Duration

	// MaxTTL clamps every TTL. If zero, no maximum is enforced.
	MaxTTL time.Duration

	// MaxEntries caps the number of stored entries. If zero, unbounded.
	MaxEntries int
}

// DefaultPolicy returns the policy used for verified provider claims:
// one minute default, five minute ceiling, 10k entries.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: time.Minute,
		MaxTTL:     5 * time.Minute,
		MaxEntries: 10000,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0 || p.MaxTTL > 0
}

// EffectiveTTL returns the TTL to use, applying the default and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// TTLUntil returns the TTL for a value that becomes invalid at expiry,
// clamped by the policy. A zero expiry yields the default TTL. A past expiry
// yields zero, meaning "do not cache".
func (p Policy) TTLUntil(expiry, now time.Time) time.Duration {
	if expiry.IsZero() {
		return p.EffectiveTTL(0)
	}
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return p.EffectiveTTL(remaining)
}
