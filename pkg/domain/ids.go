// Package domain defines the typed identifiers shared across modules.
//
// Each id is a distinct named uuid.UUID so the compiler rejects passing an
// ItemID where a CertificateID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "escrow/pkg/domain-errors"
)

type (
	IdentityID    uuid.UUID
	ItemID        uuid.UUID
	CertificateID uuid.UUID
)

func NewIdentityID() IdentityID       { return IdentityID(uuid.New()) }
func NewItemID() ItemID               { return ItemID(uuid.New()) }
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

func (id IdentityID) String() string    { return uuid.UUID(id).String() }
func (id ItemID) String() string        { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }

func (id IdentityID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ItemID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseIdentityID parses and validates an identity id at a trust boundary.
func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s, "identity")
	return IdentityID(u), err
}

// ParseItemID parses and validates an item id at a trust boundary.
func ParseItemID(s string) (ItemID, error) {
	u, err := parseUUID(s, "item")
	return ItemID(u), err
}

// ParseCertificateID parses and validates a certificate id at a trust boundary.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate")
	return CertificateID(u), err
}

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be nil")
	}
	return u, nil
}

func (id IdentityID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ItemID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id CertificateID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *IdentityID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ItemID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CertificateID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
