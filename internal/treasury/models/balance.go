package models

import "github.com/shopspring/decimal"

// Balance is the treasury's audit total.
//
// Invariants:
//   - both fields are non-negative
//   - ClaimablePool covers every sold, unredeemed certificate
type Balance struct {
	CollectedFees decimal.Decimal `json:"collected_fees"`
	ClaimablePool decimal.Decimal `json:"claimable_pool"`
}
