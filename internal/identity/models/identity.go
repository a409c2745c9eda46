package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
)

const (
	maxDisplayNameLength = 64
	maxAvatarRefLength   = 512
)

// Identity is a registered marketplace member.
//
// Invariants:
//   - DisplayName is 1..64 characters after trimming and unique ignoring case
//   - AvatarRef is at most 512 characters
//   - ID and CreatedAt are immutable after construction
type Identity struct {
	ID          id.IdentityID `json:"id"`
	DisplayName string        `json:"display_name"`
	AvatarRef   string        `json:"avatar_ref"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func NewIdentity(identityID id.IdentityID, displayName, avatarRef string, now time.Time) (*Identity, error) {
	displayName, avatarRef, err := normalizeProfile(displayName, avatarRef)
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:          identityID,
		DisplayName: displayName,
		AvatarRef:   avatarRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ApplyProfile replaces the mutable display attributes.
func (i *Identity) ApplyProfile(displayName, avatarRef string, now time.Time) error {
	displayName, avatarRef, err := normalizeProfile(displayName, avatarRef)
	if err != nil {
		return err
	}
	i.DisplayName = displayName
	i.AvatarRef = avatarRef
	i.UpdatedAt = now
	return nil
}

// NameKey is the case-folded display name used for uniqueness.
func (i *Identity) NameKey() string {
	return NameKey(i.DisplayName)
}

func NameKey(displayName string) string {
	return strings.ToLower(strings.TrimSpace(displayName))
}

func normalizeProfile(displayName, avatarRef string) (string, string, error) {
	displayName = strings.TrimSpace(displayName)
	avatarRef = strings.TrimSpace(avatarRef)
	if displayName == "" {
		return "", "", dErrors.New(dErrors.CodeInvariantViolation, "display name cannot be empty")
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return "", "", dErrors.New(dErrors.CodeInvariantViolation, "display name must be 64 characters or less")
	}
	if len(avatarRef) > maxAvatarRefLength {
		return "", "", dErrors.New(dErrors.CodeInvariantViolation, "avatar reference must be 512 characters or less")
	}
	return displayName, avatarRef, nil
}
