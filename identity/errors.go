package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors for identity persistence.
var (
	// ErrEmailConflict indicates the email is bound to another Disabled identity.
	ErrEmailConflict = errors.New("identity: email already bound to another identifier")

	// ErrAuditIDCollision indicates a generated audit id is already in use.
	// Stores return it so the issuer can retry with a fresh id.
	ErrAuditIDCollision = errors.New("identity: audit id collision")

	// ErrInvalidKey indicates an empty natural key was supplied.
	ErrInvalidKey = errors.New("identity: natural key is required")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("identity: store is closed")
)

// StoreReason classifies a StoreError.
type StoreReason string

const (
	// ReasonIDExhaustion means every audit id attempt collided.
	ReasonIDExhaustion StoreReason = "id_exhaustion"
	// ReasonPersistenceFailure means the store could not confirm or record the identity.
	ReasonPersistenceFailure StoreReason = "persistence_failure"
)

// StoreError reports that the store could not confirm or record an identity.
// Callers must treat it as fail-closed.
type StoreError struct {
	Reason StoreReason

	// Op is the store operation that failed (e.g. "upsert_authenticated").
	Op string

	// Cause is the underlying error if any.
	Cause error
}

// Error returns the error message.
func (e *StoreError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("identity store: op=%q reason=%q", e.Op, e.Reason)
	}
	return fmt.Sprintf("identity store: op=%q reason=%q: %v", e.Op, e.Reason, e.Cause)
}

// Unwrap returns the cause error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps err as a persistence failure unless it already is a
// StoreError or a domain sentinel the caller must see unchanged.
func PersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrEmailConflict) || errors.Is(err, ErrInvalidKey) {
		return err
	}
	return &StoreError{Reason: ReasonPersistenceFailure, Op: op, Cause: err}
}
