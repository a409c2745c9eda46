package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	claims "escrow/internal/claims/models"
	claimstore "escrow/internal/claims/store"
	collectible "escrow/internal/collectible/models"
	itemstore "escrow/internal/collectible/store"
	treasurystore "escrow/internal/treasury/store"
	id "escrow/pkg/domain"
)

// journal records compensations for in-memory mutations.
type journal struct {
	undo []func(ctx context.Context) error
}

func (j *journal) record(fn func(ctx context.Context) error) {
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback(ctx context.Context) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	return errors.Join(errs...)
}

type journaledItems struct {
	*itemstore.InMemory
	j *journal
}

func (s *journaledItems) Create(ctx context.Context, item *collectible.Item) error {
	if err := s.InMemory.Create(ctx, item); err != nil {
		return err
	}
	itemID := item.ID
	s.j.record(func(ctx context.Context) error {
		s.InMemory.Delete(ctx, itemID)
		return nil
	})
	return nil
}

func (s *journaledItems) Execute(ctx context.Context, itemID id.ItemID, validate func(*collectible.Item) error, mutate func(*collectible.Item)) (*collectible.Item, error) {
	before, err := s.InMemory.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item, err := s.InMemory.Execute(ctx, itemID, validate, mutate)
	if err != nil {
		return nil, err
	}
	s.j.record(func(ctx context.Context) error {
		s.InMemory.Restore(ctx, before)
		return nil
	})
	return item, nil
}

type journaledClaims struct {
	*claimstore.InMemory
	j *journal
}

func (s *journaledClaims) Record(ctx context.Context, cert *claims.Certificate) error {
	if err := s.InMemory.Record(ctx, cert); err != nil {
		return err
	}
	certID := cert.ID
	s.j.record(func(ctx context.Context) error {
		_, err := s.InMemory.Remove(ctx, certID)
		return err
	})
	return nil
}

func (s *journaledClaims) SetClaimable(ctx context.Context, certID id.CertificateID, amount decimal.Decimal) (decimal.Decimal, error) {
	previous, err := s.InMemory.SetClaimable(ctx, certID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	s.j.record(func(ctx context.Context) error {
		_, err := s.InMemory.SetClaimable(ctx, certID, previous)
		return err
	})
	return previous, nil
}

func (s *journaledClaims) Remove(ctx context.Context, certID id.CertificateID) (*claims.Certificate, error) {
	cert, err := s.InMemory.Remove(ctx, certID)
	if err != nil {
		return nil, err
	}
	s.j.record(func(ctx context.Context) error {
		s.InMemory.Restore(ctx, cert)
		return nil
	})
	return cert, nil
}

type journaledTreasury struct {
	*treasurystore.InMemory
	j *journal
}

func (s *journaledTreasury) CreditFees(ctx context.Context, amount decimal.Decimal) error {
	if err := s.InMemory.CreditFees(ctx, amount); err != nil {
		return err
	}
	s.j.record(func(ctx context.Context) error {
		return s.InMemory.DebitFees(ctx, amount)
	})
	return nil
}

func (s *journaledTreasury) CreditClaimable(ctx context.Context, amount decimal.Decimal) error {
	if err := s.InMemory.CreditClaimable(ctx, amount); err != nil {
		return err
	}
	s.j.record(func(ctx context.Context) error {
		return s.InMemory.DebitClaimable(ctx, amount)
	})
	return nil
}

func (s *journaledTreasury) DebitClaimable(ctx context.Context, amount decimal.Decimal) error {
	if err := s.InMemory.DebitClaimable(ctx, amount); err != nil {
		return err
	}
	s.j.record(func(ctx context.Context) error {
		return s.InMemory.CreditClaimable(ctx, amount)
	})
	return nil
}
