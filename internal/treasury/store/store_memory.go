package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"escrow/internal/treasury/models"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/platform/sentinel"
)

// InMemory holds the two treasury balances. Every change is a delta, so the
// rollback of one transaction never overwrites another's credit.
type InMemory struct {
	mu      sync.Mutex
	balance models.Balance
}

func NewInMemory() *InMemory {
	return &InMemory{balance: models.Balance{CollectedFees: decimal.Zero, ClaimablePool: decimal.Zero}}
}

func (s *InMemory) CreditFees(_ context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return dErrors.New(dErrors.CodeInvariantViolation, "fee credit cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance.CollectedFees = s.balance.CollectedFees.Add(amount)
	return nil
}

// DebitFees reverses a fee credit. Nothing outside rollback calls it.
func (s *InMemory) DebitFees(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance.CollectedFees.LessThan(amount) {
		return sentinel.ErrInsufficient
	}
	s.balance.CollectedFees = s.balance.CollectedFees.Sub(amount)
	return nil
}

func (s *InMemory) CreditClaimable(_ context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return dErrors.New(dErrors.CodeInvariantViolation, "pool credit cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance.ClaimablePool = s.balance.ClaimablePool.Add(amount)
	return nil
}

// DebitClaimable pays amount out of the pool, or fails with
// sentinel.ErrInsufficient leaving the pool unchanged.
func (s *InMemory) DebitClaimable(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance.ClaimablePool.LessThan(amount) {
		return sentinel.ErrInsufficient
	}
	s.balance.ClaimablePool = s.balance.ClaimablePool.Sub(amount)
	return nil
}

func (s *InMemory) Balances(_ context.Context) (models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}
