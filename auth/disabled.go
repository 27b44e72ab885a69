package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/observe"
)

// DisabledConfig configures the Disabled-mode validator.
type DisabledConfig struct {
	// Format selects identifier strictness. Default: canonical.
	Format GUIDFormat

	// Store is required.
	Store identity.Store

	Logger observe.Logger
	Now    func() time.Time
}

// DisabledValidator accepts a self-issued UUID as the caller identity.
type DisabledValidator struct {
	config DisabledConfig
}

// NewDisabledValidator creates a Disabled-mode validator.
func NewDisabledValidator(config DisabledConfig) *DisabledValidator {
	if config.Format == "" {
		config.Format = GUIDFormatCanonical
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &DisabledValidator{config: config}
}

// Mode returns ModeDisabled.
func (v *DisabledValidator) Mode() Mode {
	return ModeDisabled
}

// Validate checks the identifier, then finds the identity or creates it from
// the supplied profile. A malformed identifier is rejected before the profile
// is looked at.
func (v *DisabledValidator) Validate(ctx context.Context, cred Credential) (identity.Record, error) {
	id, err := ParseIdentifier(cred.Identifier, v.config.Format)
	if err != nil {
		return nil, authFailure(ModeDisabled, ReasonMalformedIdentifier, err)
	}

	existing, found, err := v.config.Store.FindDisabled(ctx, id)
	if err != nil {
		return nil, authFailure(ModeDisabled, ReasonStoreFailure, err)
	}
	if found {
		return existing, nil
	}

	if err := validateProfile(cred.Profile); err != nil {
		return nil, authFailure(ModeDisabled, ReasonInvalidProfile, err)
	}

	rec, created, err := v.config.Store.FindOrCreateDisabled(ctx, identity.DisabledProfile{
		ID:           id,
		Name:         strings.TrimSpace(cred.Profile.Name),
		Email:        cred.Profile.Email,
		Organization: cred.Profile.Organization,
		SessionID:    cred.Profile.SessionID,
		SeenAt:       v.config.Now(),
	})
	switch {
	case errors.Is(err, identity.ErrEmailConflict):
		return nil, authFailure(ModeDisabled, ReasonInvalidProfile, err)
	case err != nil:
		return nil, authFailure(ModeDisabled, ReasonStoreFailure, err)
	}

	if created {
		v.config.Logger.Debug(ctx, "disabled identity created", observe.Field{Key: "subject_id", Value: rec.ID})
	}
	return rec, nil
}

// ParseIdentifier checks raw against format and returns the canonical
// lower-case form.
func ParseIdentifier(raw string, format GUIDFormat) (string, error) {
	if raw == "" {
		return "", ErrMissingCredentials
	}

	switch format {
	case GUIDFormatCanonical, GUIDFormatV4, "":
		if len(raw) != 36 {
			return "", errors.New("identifier is not a 36-character hyphenated uuid")
		}
	case GUIDFormatAny:
	default:
		return "", fmt.Errorf("unknown guid format %q", format)
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("identifier is not a uuid: %w", err)
	}
	if format == GUIDFormatV4 && (u.Version() != 4 || u.Variant() != uuid.RFC4122) {
		return "", errors.New("identifier is not a version 4 uuid")
	}
	return u.String(), nil
}

func validateProfile(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required for a new identity")
	}
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return errors.New("email is required for a new identity")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("email %q is not a valid address", email)
	}
	return nil
}

// Ensure DisabledValidator implements Validator
var _ Validator = (*DisabledValidator)(nil)
