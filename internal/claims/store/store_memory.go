package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"escrow/internal/claims/models"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
)

// InMemory is the claim ledger kept in memory. Each item has at most one
// certificate, indexed both ways.
type InMemory struct {
	mu     sync.RWMutex
	certs  map[id.CertificateID]*models.Certificate
	byItem map[id.ItemID]id.CertificateID
}

func NewInMemory() *InMemory {
	return &InMemory{
		certs:  make(map[id.CertificateID]*models.Certificate),
		byItem: make(map[id.ItemID]id.CertificateID),
	}
}

// Record inserts a certificate. A reused certificate id or an item that
// already has a certificate is sentinel.ErrAlreadyUsed.
func (s *InMemory) Record(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[cert.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if _, ok := s.byItem[cert.ItemID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	copied := *cert
	s.certs[cert.ID] = &copied
	s.byItem[cert.ItemID] = cert.ID
	return nil
}

func (s *InMemory) Find(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *cert
	return &copied, nil
}

func (s *InMemory) LookupItem(ctx context.Context, certID id.CertificateID) (id.ItemID, error) {
	cert, err := s.Find(ctx, certID)
	if err != nil {
		return id.ItemID{}, err
	}
	return cert.ItemID, nil
}

func (s *InMemory) FindByItem(_ context.Context, itemID id.ItemID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byItem[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.certs[certID]
	return &copied, nil
}

// FindByItems returns the outstanding certificates for the given items.
// Items without one are absent from the result.
func (s *InMemory) FindByItems(_ context.Context, itemIDs []id.ItemID) (map[id.ItemID]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.ItemID]*models.Certificate, len(itemIDs))
	for _, itemID := range itemIDs {
		if certID, ok := s.byItem[itemID]; ok {
			copied := *s.certs[certID]
			out[itemID] = &copied
		}
	}
	return out, nil
}

// SetClaimable rewrites the claimable amount and returns the previous one.
func (s *InMemory) SetClaimable(_ context.Context, certID id.CertificateID, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certID]
	if !ok {
		return decimal.Zero, sentinel.ErrNotFound
	}
	previous := cert.ClaimableAmount
	cert.ClaimableAmount = amount
	return previous, nil
}

// Remove deletes the certificate and returns it. A second removal of the same
// id is sentinel.ErrNotFound.
func (s *InMemory) Remove(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.certs, certID)
	delete(s.byItem, cert.ItemID)
	return cert, nil
}

// Restore puts back a certificate removed by a rolled-back transaction.
func (s *InMemory) Restore(_ context.Context, cert *models.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cert
	s.certs[cert.ID] = &copied
	s.byItem[cert.ItemID] = cert.ID
}
