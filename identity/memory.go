package identity

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-memory Store. It is the default for tests and for
// single-process deployments that do not need durability.
type MemoryStore struct {
	mu     sync.Mutex
	closed bool

	disabled      map[string]*DisabledIdentity
	disabledEmail map[string]string // normalized email -> id

	authenticated      map[string]*AuthenticatedIdentity
	authenticatedAudit map[string]string // audit id -> user id

	oauth      map[string]*OAuthIdentity
	oauthAudit map[string]string // audit id -> object id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disabled:           make(map[string]*DisabledIdentity),
		disabledEmail:      make(map[string]string),
		authenticated:      make(map[string]*AuthenticatedIdentity),
		authenticatedAudit: make(map[string]string),
		oauth:              make(map[string]*OAuthIdentity),
		oauthAudit:         make(map[string]string),
	}
}

// FindDisabled looks up the Disabled identity for id.
func (s *MemoryStore) FindDisabled(_ context.Context, id string) (*DisabledIdentity, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, &StoreError{Reason: ReasonPersistenceFailure, Op: "find_disabled", Cause: ErrStoreClosed}
	}
	rec, ok := s.disabled[id]
	if !ok {
		return nil, false, nil
	}
	clone := *rec
	return &clone, true, nil
}

// FindOrCreateDisabled returns or creates the Disabled identity for profile.ID.
func (s *MemoryStore) FindOrCreateDisabled(_ context.Context, profile DisabledProfile) (*DisabledIdentity, bool, error) {
	if profile.ID == "" {
		return nil, false, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, &StoreError{Reason: ReasonPersistenceFailure, Op: "find_or_create_disabled", Cause: ErrStoreClosed}
	}

	if rec, ok := s.disabled[profile.ID]; ok {
		clone := *rec
		return &clone, false, nil
	}

	email := NormalizeEmail(profile.Email)
	if owner, taken := s.disabledEmail[email]; taken && owner != profile.ID {
		return nil, false, ErrEmailConflict
	}

	rec := &DisabledIdentity{
		ID:           profile.ID,
		Name:         profile.Name,
		Email:        email,
		Organization: profile.Organization,
		SessionID:    profile.SessionID,
		CreatedAt:    seenAt(profile.SeenAt),
	}
	s.disabled[rec.ID] = rec
	s.disabledEmail[email] = rec.ID

	clone := *rec
	return &clone, true, nil
}

// UpsertAuthenticated creates or refreshes the record for profile.UserID.
func (s *MemoryStore) UpsertAuthenticated(ctx context.Context, profile AuthenticatedProfile, issuer *AuditIDIssuer) (*AuthenticatedIdentity, bool, error) {
	if profile.UserID == "" {
		return nil, false, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, &StoreError{Reason: ReasonPersistenceFailure, Op: "upsert_authenticated", Cause: ErrStoreClosed}
	}

	now := seenAt(profile.SeenAt)
	roles := CompactStrings(profile.Roles)

	if rec, ok := s.authenticated[profile.UserID]; ok {
		rec.Email = NormalizeEmail(profile.Email)
		rec.DisplayName = profile.DisplayName
		rec.Roles = roles
		rec.LastSeenAt = now
		return cloneAuthenticated(rec), false, nil
	}

	rec := &AuthenticatedIdentity{
		UserID:      profile.UserID,
		Email:       NormalizeEmail(profile.Email),
		DisplayName: profile.DisplayName,
		Roles:       roles,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	_, err := issuer.Issue(ctx, func(auditID string) error {
		if _, taken := s.authenticatedAudit[auditID]; taken {
			return ErrAuditIDCollision
		}
		rec.AuditID = auditID
		return nil
	})
	if err != nil {
		return nil, false, PersistenceError("upsert_authenticated", err)
	}

	s.authenticated[rec.UserID] = rec
	s.authenticatedAudit[rec.AuditID] = rec.UserID
	return cloneAuthenticated(rec), true, nil
}

// UpsertOAuth creates or refreshes the record for profile.ObjectID.
func (s *MemoryStore) UpsertOAuth(ctx context.Context, profile OAuthProfile, issuer *AuditIDIssuer) (*OAuthIdentity, bool, error) {
	if profile.ObjectID == "" {
		return nil, false, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, &StoreError{Reason: ReasonPersistenceFailure, Op: "upsert_oauth", Cause: ErrStoreClosed}
	}

	now := seenAt(profile.SeenAt)
	scopes := CompactStrings(profile.Scopes)

	if rec, ok := s.oauth[profile.ObjectID]; ok {
		rec.Email = NormalizeEmail(profile.Email)
		rec.DisplayName = profile.DisplayName
		rec.TenantID = profile.TenantID
		rec.Scopes = scopes
		rec.LastSeenAt = now
		return cloneOAuth(rec), false, nil
	}

	rec := &OAuthIdentity{
		ObjectID:    profile.ObjectID,
		Email:       NormalizeEmail(profile.Email),
		DisplayName: profile.DisplayName,
		TenantID:    profile.TenantID,
		Scopes:      scopes,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	_, err := issuer.Issue(ctx, func(auditID string) error {
		if _, taken := s.oauthAudit[auditID]; taken {
			return ErrAuditIDCollision
		}
		rec.AuditID = auditID
		return nil
	})
	if err != nil {
		return nil, false, PersistenceError("upsert_oauth", err)
	}

	s.oauth[rec.ObjectID] = rec
	s.oauthAudit[rec.AuditID] = rec.ObjectID
	return cloneOAuth(rec), true, nil
}

// Ping returns an error once the store is closed.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Len returns the number of records held for the variant.
func (s *MemoryStore) Len(v Variant) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v {
	case VariantDisabled:
		return len(s.disabled)
	case VariantAuthenticated:
		return len(s.authenticated)
	case VariantOAuth:
		return len(s.oauth)
	default:
		return 0
	}
}

func cloneAuthenticated(rec *AuthenticatedIdentity) *AuthenticatedIdentity {
	clone := *rec
	clone.Roles = slices.Clone(rec.Roles)
	return &clone
}

func cloneOAuth(rec *OAuthIdentity) *OAuthIdentity {
	clone := *rec
	clone.Scopes = slices.Clone(rec.Scopes)
	return &clone
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
