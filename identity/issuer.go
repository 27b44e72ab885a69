package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AuditIDConfig configures the audit id issuer.
type AuditIDConfig struct {
	// MaxAttempts bounds how many ids are tried before giving up.
	// Default: 5
	MaxAttempts int

	// Generate returns a fresh random 128-bit id.
	// Default: uuid.NewRandom
	Generate func() (uuid.UUID, error)
}

// AuditIDIssuer generates collision-free audit ids and binds them through a
// caller-supplied attempt function.
type AuditIDIssuer struct {
	config AuditIDConfig
}

// NewAuditIDIssuer creates an issuer.
func NewAuditIDIssuer(config AuditIDConfig) *AuditIDIssuer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Generate == nil {
		config.Generate = uuid.NewRandom
	}
	return &AuditIDIssuer{config: config}
}

// Issue calls attempt with fresh ids until it succeeds. An attempt returning
// ErrAuditIDCollision is retried with a new id; any other error aborts.
// After MaxAttempts collisions it returns a StoreError with ReasonIDExhaustion.
func (i *AuditIDIssuer) Issue(ctx context.Context, attempt func(auditID string) error) (string, error) {
	if i == nil {
		i = NewAuditIDIssuer(AuditIDConfig{})
	}

	for n := 1; n <= i.config.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return "", &StoreError{Reason: ReasonPersistenceFailure, Op: "issue_audit_id", Cause: err}
		}

		id, err := i.config.Generate()
		if err != nil {
			return "", &StoreError{Reason: ReasonPersistenceFailure, Op: "issue_audit_id", Cause: err}
		}

		auditID := id.String()
		err = attempt(auditID)
		if err == nil {
			return auditID, nil
		}
		if !errors.Is(err, ErrAuditIDCollision) {
			return "", err
		}
	}

	return "", &StoreError{
		Reason: ReasonIDExhaustion,
		Op:     "issue_audit_id",
		Cause:  fmt.Errorf("%w after %d attempts", ErrAuditIDCollision, i.config.MaxAttempts),
	}
}

// MaxAttempts returns the configured attempt bound.
func (i *AuditIDIssuer) MaxAttempts() int {
	return i.config.MaxAttempts
}
