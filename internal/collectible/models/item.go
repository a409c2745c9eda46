package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/funds"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
)

const (
	maxNameLength        = 128
	maxDescriptionLength = 2048
	maxImageRefLength    = 512
)

// Item is a unique minted collectible.
//
// Invariants:
//   - Price is non-negative and never changes after minting
//   - Status moves available -> sold exactly once and never reverts
//   - BuyerID and SoldAt are set together with the sold status
//   - DeliveredAt is set at most once, and only on a sold item
type Item struct {
	ID          id.ItemID       `json:"id"`
	CreatorID   id.IdentityID   `json:"creator_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageRef    string          `json:"image_ref"`
	Price       decimal.Decimal `json:"price"`
	Status      Status          `json:"status"`
	BuyerID     *id.IdentityID  `json:"buyer_id,omitempty"`
	SoldAt      *time.Time      `json:"sold_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewItem mints an available item. A negative price is CodeInvalidPrice; bad
// display attributes are invariant violations.
func NewItem(itemID id.ItemID, creatorID id.IdentityID, name, description, imageRef string, price decimal.Decimal, now time.Time) (*Item, error) {
	if price.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvalidPrice, "price cannot be negative")
	}
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	imageRef = strings.TrimSpace(imageRef)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "item name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "item name must be 128 characters or less")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "item description must be 2048 characters or less")
	}
	if len(imageRef) > maxImageRefLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "image reference must be 512 characters or less")
	}
	return &Item{
		ID:          itemID,
		CreatorID:   creatorID,
		Name:        name,
		Description: description,
		ImageRef:    imageRef,
		Price:       funds.Round(price),
		Status:      StatusAvailable,
		CreatedAt:   now,
	}, nil
}

func (i *Item) IsSold() bool {
	return i.Status == StatusSold
}

func (i *Item) IsDelivered() bool {
	return i.DeliveredAt != nil
}

// CanMarkSold fails with CodeAlreadySold once the item has a buyer.
func (i *Item) CanMarkSold() error {
	if i.Status != StatusAvailable {
		return dErrors.New(dErrors.CodeAlreadySold, "item already sold")
	}
	return nil
}

func (i *Item) ApplySold(buyerID id.IdentityID, now time.Time) {
	i.Status = StatusSold
	i.BuyerID = &buyerID
	i.SoldAt = &now
}

// CanDeliver allows exactly one delivery, after the sale.
func (i *Item) CanDeliver() error {
	if !i.IsSold() {
		return dErrors.New(dErrors.CodeNotSoldYet, "item has not been sold")
	}
	if i.IsDelivered() {
		return dErrors.New(dErrors.CodeAlreadyDelivered, "item already delivered")
	}
	return nil
}

func (i *Item) ApplyDelivery(now time.Time) {
	i.DeliveredAt = &now
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (i *Item) Clone() *Item {
	c := *i
	if i.BuyerID != nil {
		buyer := *i.BuyerID
		c.BuyerID = &buyer
	}
	if i.SoldAt != nil {
		soldAt := *i.SoldAt
		c.SoldAt = &soldAt
	}
	if i.DeliveredAt != nil {
		deliveredAt := *i.DeliveredAt
		c.DeliveredAt = &deliveredAt
	}
	return &c
}
