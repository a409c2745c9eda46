package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/funds"
)

// Certificate is a transferable claim on the sale proceeds of one item.
//
// Invariants:
//   - ItemID never changes after issue
//   - ClaimableAmount is non-negative
//   - A certificate exists from mint until its single successful redemption
type Certificate struct {
	ID              id.CertificateID `json:"id"`
	ItemID          id.ItemID        `json:"item_id"`
	ClaimableAmount decimal.Decimal  `json:"claimable_amount"`
	IssuedAt        time.Time        `json:"issued_at"`
}

func NewCertificate(certID id.CertificateID, itemID id.ItemID, claimable decimal.Decimal, now time.Time) (*Certificate, error) {
	if itemID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate must reference an item")
	}
	if claimable.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "claimable amount cannot be negative")
	}
	return &Certificate{
		ID:              certID,
		ItemID:          itemID,
		ClaimableAmount: funds.Round(claimable),
		IssuedAt:        now,
	}, nil
}
