package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonwraymond/toolauth/audit"
	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/identity/sqlite/migrations"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements identity.Store and audit.Sink over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := MemoryPath + "?_pragma=foreign_keys(1)"
	if path != MemoryPath {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database shared.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: sqlDB}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const insertDisabledSQL = `
INSERT INTO disabled_identities (id, name, email, organization, session_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`

const selectDisabledSQL = `
SELECT id, name, email, organization, session_id, created_at
FROM disabled_identities
WHERE id = ?`

// FindDisabled looks up the Disabled identity for id.
func (s *Store) FindDisabled(ctx context.Context, id string) (*identity.DisabledIdentity, bool, error) {
	if id == "" {
		return nil, false, identity.ErrInvalidKey
	}

	var rec identity.DisabledIdentity
	var createdAt int64
	err := s.db.QueryRowContext(ctx, selectDisabledSQL, id).Scan(
		&rec.ID, &rec.Name, &rec.Email, &rec.Organization, &rec.SessionID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, identity.PersistenceError("find_disabled", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return &rec, true, nil
}

// FindOrCreateDisabled returns or creates the Disabled identity for profile.ID.
func (s *Store) FindOrCreateDisabled(ctx context.Context, profile identity.DisabledProfile) (*identity.DisabledIdentity, bool, error) {
	const op = "find_or_create_disabled"
	if profile.ID == "" {
		return nil, false, identity.ErrInvalidKey
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	created := false
	emailConflict := false
	res, err := tx.ExecContext(ctx, insertDisabledSQL,
		profile.ID,
		profile.Name,
		identity.NormalizeEmail(profile.Email),
		profile.Organization,
		profile.SessionID,
		toMillis(seenAt(profile.SeenAt)),
	)
	switch {
	case err == nil:
		n, _ := res.RowsAffected()
		created = n == 1
	case isUniqueViolation(err, "disabled_identities.email"):
		emailConflict = true
	default:
		return nil, false, identity.PersistenceError(op, err)
	}

	var rec identity.DisabledIdentity
	var createdAt int64
	err = tx.QueryRowContext(ctx, selectDisabledSQL, profile.ID).Scan(
		&rec.ID, &rec.Name, &rec.Email, &rec.Organization, &rec.SessionID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) && emailConflict {
		return nil, false, identity.ErrEmailConflict
	}
	if err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	rec.CreatedAt = fromMillis(createdAt)

	if err := tx.Commit(); err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	return &rec, created, nil
}

const upsertAuthenticatedSQL = `
INSERT INTO authenticated_identities (user_id, email, display_name, roles, audit_id, created_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    email = excluded.email,
    display_name = excluded.display_name,
    roles = excluded.roles,
    last_seen_at = excluded.last_seen_at
RETURNING user_id, email, display_name, roles, audit_id, created_at, last_seen_at`

// UpsertAuthenticated creates or refreshes the record for profile.UserID.
func (s *Store) UpsertAuthenticated(ctx context.Context, profile identity.AuthenticatedProfile, issuer *identity.AuditIDIssuer) (*identity.AuthenticatedIdentity, bool, error) {
	const op = "upsert_authenticated"
	if profile.UserID == "" {
		return nil, false, identity.ErrInvalidKey
	}

	roles, err := encodeStrings(profile.Roles)
	if err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	seen := toMillis(seenAt(profile.SeenAt))

	var rec *identity.AuthenticatedIdentity
	var created bool
	_, err = issuer.Issue(ctx, func(auditID string) error {
		row := s.db.QueryRowContext(ctx, upsertAuthenticatedSQL,
			profile.UserID,
			identity.NormalizeEmail(profile.Email),
			profile.DisplayName,
			roles,
			auditID,
			seen,
			seen,
		)
		scanned, err := scanAuthenticated(row)
		if err != nil {
			if isUniqueViolation(err, "authenticated_identities.audit_id") {
				return identity.ErrAuditIDCollision
			}
			return err
		}
		rec = scanned
		created = scanned.AuditID == auditID
		return nil
	})
	if err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	return rec, created, nil
}

const upsertOAuthSQL = `
INSERT INTO oauth_identities (object_id, email, display_name, tenant_id, scopes, audit_id, created_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(object_id) DO UPDATE SET
    email = excluded.email,
    display_name = excluded.display_name,
    tenant_id = excluded.tenant_id,
    scopes = excluded.scopes,
    last_seen_at = excluded.last_seen_at
RETURNING object_id, email, display_name, tenant_id, scopes, audit_id, created_at, last_seen_at`

// UpsertOAuth creates or refreshes the record for profile.ObjectID.
func (s *Store) UpsertOAuth(ctx context.Context, profile identity.OAuthProfile, issuer *identity.AuditIDIssuer) (*identity.OAuthIdentity, bool, error) {
	const op = "upsert_oauth"
	if profile.ObjectID == "" {
		return nil, false, identity.ErrInvalidKey
	}

	scopes, err := encodeStrings(profile.Scopes)
	if err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	seen := toMillis(seenAt(profile.SeenAt))

	var rec *identity.OAuthIdentity
	var created bool
	_, err = issuer.Issue(ctx, func(auditID string) error {
		row := s.db.QueryRowContext(ctx, upsertOAuthSQL,
			profile.ObjectID,
			identity.NormalizeEmail(profile.Email),
			profile.DisplayName,
			profile.TenantID,
			scopes,
			auditID,
			seen,
			seen,
		)
		scanned, err := scanOAuth(row)
		if err != nil {
			if isUniqueViolation(err, "oauth_identities.audit_id") {
				return identity.ErrAuditIDCollision
			}
			return err
		}
		rec = scanned
		created = scanned.AuditID == auditID
		return nil
	})
	if err != nil {
		return nil, false, identity.PersistenceError(op, err)
	}
	return rec, created, nil
}

const insertAuditEventSQL = `
INSERT INTO audit_events (occurred_at, subject_id, audit_id, mode, decision, reason_code, tool_name)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// Emit persists an audit event.
func (s *Store) Emit(ctx context.Context, event audit.Event) error {
	var subject, auditID sql.NullString
	if event.SubjectID != nil {
		subject = sql.NullString{String: *event.SubjectID, Valid: true}
	}
	if event.AuditID != "" {
		auditID = sql.NullString{String: event.AuditID, Valid: true}
	}
	occurred := event.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, insertAuditEventSQL,
		toMillis(occurred),
		subject,
		auditID,
		event.Mode,
		string(event.Decision),
		event.ReasonCode,
		event.ToolName,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const listAuditEventsSQL = `
SELECT occurred_at, subject_id, audit_id, mode, decision, reason_code, tool_name
FROM audit_events
ORDER BY id DESC
LIMIT ?`

// RecentAuditEvents returns up to limit events, newest first.
func (s *Store) RecentAuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, listAuditEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		var (
			occurred int64
			subject  sql.NullString
			auditID  sql.NullString
			decision string
			event    audit.Event
		)
		if err := rows.Scan(&occurred, &subject, &auditID, &event.Mode, &decision, &event.ReasonCode, &event.ToolName); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Timestamp = fromMillis(occurred)
		event.Decision = audit.Decision(decision)
		event.AuditID = auditID.String
		if subject.Valid {
			v := subject.String
			event.SubjectID = &v
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthenticated(row rowScanner) (*identity.AuthenticatedIdentity, error) {
	var rec identity.AuthenticatedIdentity
	var roles string
	var createdAt, lastSeenAt int64
	if err := row.Scan(&rec.UserID, &rec.Email, &rec.DisplayName, &roles, &rec.AuditID, &createdAt, &lastSeenAt); err != nil {
		return nil, err
	}
	decoded, err := decodeStrings(roles)
	if err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	rec.Roles = decoded
	rec.CreatedAt = fromMillis(createdAt)
	rec.LastSeenAt = fromMillis(lastSeenAt)
	return &rec, nil
}

func scanOAuth(row rowScanner) (*identity.OAuthIdentity, error) {
	var rec identity.OAuthIdentity
	var scopes string
	var createdAt, lastSeenAt int64
	if err := row.Scan(&rec.ObjectID, &rec.Email, &rec.DisplayName, &rec.TenantID, &scopes, &rec.AuditID, &createdAt, &lastSeenAt); err != nil {
		return nil, err
	}
	decoded, err := decodeStrings(scopes)
	if err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	rec.Scopes = decoded
	rec.CreatedAt = fromMillis(createdAt)
	rec.LastSeenAt = fromMillis(lastSeenAt)
	return &rec, nil
}

func encodeStrings(values []string) (string, error) {
	data, err := json.Marshal(identity.CompactStrings(values))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(raw string) ([]string, error) {
	var out []string
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func seenAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// isUniqueViolation reports whether err is a UNIQUE failure on table.column.
func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

// Ensure Store implements identity.Store and audit.Sink
var (
	_ identity.Store = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)
