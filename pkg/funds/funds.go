// Package funds models fungible value moved between callers and the treasury.
//
// A Bucket is a plain value: taking from it returns the split-off portion and
// leaves the remainder in the receiver. Unique assets (items, certificates) are
// never represented as buckets; they travel as id-based handles.
package funds

import (
	"github.com/shopspring/decimal"

	dErrors "escrow/pkg/domain-errors"
)

// Scale is the number of fractional digits amounts are rounded to.
const Scale = 18

// Bucket holds a non-negative amount of funds.
type Bucket struct {
	amount decimal.Decimal
}

// NewBucket returns a bucket holding amount. Negative amounts are rejected.
func NewBucket(amount decimal.Decimal) (Bucket, error) {
	if amount.IsNegative() {
		return Bucket{}, dErrors.New(dErrors.CodeValidation, "bucket amount cannot be negative")
	}
	return Bucket{amount: Round(amount)}, nil
}

// MustBucket is NewBucket for constants and tests.
func MustBucket(amount string) Bucket {
	b, err := NewBucket(decimal.RequireFromString(amount))
	if err != nil {
		panic(err)
	}
	return b
}

// Empty returns a zero bucket.
func Empty() Bucket {
	return Bucket{amount: decimal.Zero}
}

// Amount returns the amount held.
func (b Bucket) Amount() decimal.Decimal {
	return b.amount
}

// IsEmpty reports whether the bucket holds nothing.
func (b Bucket) IsEmpty() bool {
	return b.amount.IsZero()
}

// Take splits amount off the bucket. It fails with CodeInsufficientPayment
// when the bucket holds less than amount; the bucket is unchanged on error.
func (b *Bucket) Take(amount decimal.Decimal) (Bucket, error) {
	if amount.IsNegative() {
		return Bucket{}, dErrors.New(dErrors.CodeValidation, "cannot take a negative amount")
	}
	amount = Round(amount)
	if b.amount.LessThan(amount) {
		return Bucket{}, dErrors.New(dErrors.CodeInsufficientPayment, "bucket holds "+b.amount.String()+", need "+amount.String())
	}
	b.amount = b.amount.Sub(amount)
	return Bucket{amount: amount}, nil
}

// Put merges other into the bucket and empties other.
func (b *Bucket) Put(other *Bucket) {
	b.amount = b.amount.Add(other.amount)
	other.amount = decimal.Zero
}

// Round normalizes an amount to Scale fractional digits.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}
