package identity

import (
	"slices"
	"strings"
	"time"
)

// Variant identifies which of the three identity record shapes a Record is.
type Variant int

const (
	// VariantDisabled is the record kept for self-issued client identifiers.
	VariantDisabled Variant = iota
	// VariantAuthenticated is the record kept for bearer-token users.
	VariantAuthenticated
	// VariantOAuth is the record kept for federated provider users.
	VariantOAuth
)

// String returns the string representation of the variant.
func (v Variant) String() string {
	switch v {
	case VariantDisabled:
		return "disabled"
	case VariantAuthenticated:
		return "authenticated"
	case VariantOAuth:
		return "oauth"
	default:
		return "unknown"
	}
}

// Record is implemented by the three identity record variants only.
type Record interface {
	// Variant reports which record shape this is.
	Variant() Variant

	// NaturalKey is the mode-specific external identifier.
	NaturalKey() string

	// AuditKey is the id used to correlate audit logs. Disabled identities
	// have no separate audit id, so their identifier is returned.
	AuditKey() string

	isRecord()
}

// DisabledIdentity is a self-issued identity keyed by a client-supplied UUID.
type DisabledIdentity struct {
	// ID is the canonical lower-case UUID supplied by the client.
	ID string

	Name         string
	Email        string
	Organization string
	SessionID    string

	CreatedAt time.Time
}

func (r *DisabledIdentity) Variant() Variant   { return VariantDisabled }
func (r *DisabledIdentity) NaturalKey() string { return r.ID }
func (r *DisabledIdentity) AuditKey() string   { return r.ID }
func (r *DisabledIdentity) isRecord()          {}

// AuthenticatedIdentity is a user known through a validated bearer token.
type AuthenticatedIdentity struct {
	// UserID is the subject of the bearer token.
	UserID string

	Email       string
	DisplayName string
	Roles       []string

	// AuditID is generated on first contact and never changes.
	AuditID string

	CreatedAt  time.Time
	LastSeenAt time.Time
}

func (r *AuthenticatedIdentity) Variant() Variant   { return VariantAuthenticated }
func (r *AuthenticatedIdentity) NaturalKey() string { return r.UserID }
func (r *AuthenticatedIdentity) AuditKey() string   { return r.AuditID }
func (r *AuthenticatedIdentity) isRecord()          {}

// OAuthIdentity is a user known through an external identity provider.
type OAuthIdentity struct {
	// ObjectID is the provider's immutable object id for the user.
	ObjectID string

	Email       string
	DisplayName string
	TenantID    string
	Scopes      []string

	// AuditID is generated on first contact and never changes.
	AuditID string

	CreatedAt  time.Time
	LastSeenAt time.Time
}

func (r *OAuthIdentity) Variant() Variant   { return VariantOAuth }
func (r *OAuthIdentity) NaturalKey() string { return r.ObjectID }
func (r *OAuthIdentity) AuditKey() string   { return r.AuditID }
func (r *OAuthIdentity) isRecord()          {}

// DisabledProfile carries the caller-supplied fields for a Disabled identity.
type DisabledProfile struct {
	ID           string
	Name         string
	Email        string
	Organization string
	SessionID    string
	SeenAt       time.Time
}

// AuthenticatedProfile carries the token-derived fields for an upsert.
type AuthenticatedProfile struct {
	UserID      string
	Email       string
	DisplayName string
	Roles       []string
	SeenAt      time.Time
}

// OAuthProfile carries the provider-derived fields for an upsert.
type OAuthProfile struct {
	ObjectID    string
	Email       string
	DisplayName string
	TenantID    string
	Scopes      []string
	SeenAt      time.Time
}

// NormalizeEmail lower-cases and trims an email for uniqueness comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CompactStrings returns a sorted copy of values with blanks removed and
// duplicates folded case-insensitively. The first spelling seen is kept.
func CompactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func seenAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// Ensure all variants implement Record
var (
	_ Record = (*DisabledIdentity)(nil)
	_ Record = (*AuthenticatedIdentity)(nil)
	_ Record = (*OAuthIdentity)(nil)
)
