package identity

import "context"

// Store is durable keyed storage for the three identity record variants.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use. For a given
//     natural key, concurrent first contacts produce exactly one record and
//     every caller observes it.
//   - Immutability: the natural key and audit id never change after creation.
//   - Errors: ErrEmailConflict and ErrInvalidKey are returned unchanged; any
//     other failure is a *StoreError.
type Store interface {
	// FindDisabled returns the Disabled identity for id. The bool is false
	// when no record exists yet.
	FindDisabled(ctx context.Context, id string) (*DisabledIdentity, bool, error)

	// FindOrCreateDisabled returns the Disabled identity for profile.ID,
	// creating it from profile on first contact. Existing records are
	// returned untouched.
	FindOrCreateDisabled(ctx context.Context, profile DisabledProfile) (*DisabledIdentity, bool, error)

	// UpsertAuthenticated creates the record with an audit id from issuer on
	// first contact, or refreshes email, display name, roles and last-seen.
	UpsertAuthenticated(ctx context.Context, profile AuthenticatedProfile, issuer *AuditIDIssuer) (*AuthenticatedIdentity, bool, error)

	// UpsertOAuth creates the record with an audit id from issuer on first
	// contact, or refreshes email, display name, tenant, scopes and last-seen.
	UpsertOAuth(ctx context.Context, profile OAuthProfile, issuer *AuditIDIssuer) (*OAuthIdentity, bool, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
