package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"escrow/internal/claims/models"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
)

type InMemoryLedgerSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemoryLedgerSuite(t *testing.T) {
	suite.Run(t, new(InMemoryLedgerSuite))
}

func (s *InMemoryLedgerSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryLedgerSuite) issue(amount string) *models.Certificate {
	cert, err := models.NewCertificate(id.NewCertificateID(), id.NewItemID(), decimal.RequireFromString(amount), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Record(s.ctx, cert))
	return cert
}

func (s *InMemoryLedgerSuite) TestRecordAndLookup() {
	cert := s.issue("100")

	itemID, err := s.store.LookupItem(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.ItemID, itemID)

	byItem, err := s.store.FindByItem(s.ctx, cert.ItemID)
	s.Require().NoError(err)
	s.Equal(cert.ID, byItem.ID)

	s.Run("duplicate certificate id", func() {
		dup := *cert
		dup.ItemID = id.NewItemID()
		s.ErrorIs(s.store.Record(s.ctx, &dup), sentinel.ErrAlreadyUsed)
	})

	s.Run("second certificate for one item", func() {
		dup := *cert
		dup.ID = id.NewCertificateID()
		s.ErrorIs(s.store.Record(s.ctx, &dup), sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown certificate", func() {
		_, err := s.store.LookupItem(s.ctx, id.NewCertificateID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryLedgerSuite) TestSetClaimableKeepsMapping() {
	cert := s.issue("100")

	previous, err := s.store.SetClaimable(s.ctx, cert.ID, decimal.RequireFromString("97.5"))
	s.Require().NoError(err)
	s.Equal("100", previous.String())

	found, err := s.store.Find(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal("97.5", found.ClaimableAmount.String())
	s.Equal(cert.ItemID, found.ItemID)

	_, err = s.store.SetClaimable(s.ctx, id.NewCertificateID(), decimal.Zero)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryLedgerSuite) TestRemoveOnce() {
	cert := s.issue("5")

	removed, err := s.store.Remove(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.ID, removed.ID)

	_, err = s.store.Remove(s.ctx, cert.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByItem(s.ctx, cert.ItemID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.store.Restore(s.ctx, removed)
	restored, err := s.store.Find(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.ItemID, restored.ItemID)
}

func (s *InMemoryLedgerSuite) TestFindByItems() {
	a := s.issue("1")
	b := s.issue("2")
	missing := id.NewItemID()

	found, err := s.store.FindByItems(s.ctx, []id.ItemID{a.ItemID, b.ItemID, missing})
	s.Require().NoError(err)
	s.Len(found, 2)
	s.Equal(a.ID, found[a.ItemID].ID)
	s.NotContains(found, missing)
}
