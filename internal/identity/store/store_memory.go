package store

import (
	"context"
	"sync"

	"escrow/internal/identity/models"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
)

// InMemory keeps identities in maps guarded by a single RWMutex.
type InMemory struct {
	mu         sync.RWMutex
	identities map[id.IdentityID]*models.Identity
	names      map[string]id.IdentityID
}

func NewInMemory() *InMemory {
	return &InMemory{
		identities: make(map[id.IdentityID]*models.Identity),
		names:      make(map[string]id.IdentityID),
	}
}

// CreateIfNameAvailable inserts the identity unless its display name is taken.
func (s *InMemory) CreateIfNameAvailable(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	key := identity.NameKey()
	if _, taken := s.names[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	copied := *identity
	s.identities[identity.ID] = &copied
	s.names[key] = identity.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *InMemory) Exists(_ context.Context, identityID id.IdentityID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.identities[identityID]
	return ok, nil
}

// UpdateIfNameAvailable persists a profile change. The new display name may
// equal the identity's own current name in any casing.
func (s *InMemory) UpdateIfNameAvailable(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.identities[identity.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	newKey := identity.NameKey()
	if owner, taken := s.names[newKey]; taken && owner != identity.ID {
		return sentinel.ErrAlreadyUsed
	}
	delete(s.names, existing.NameKey())
	copied := *identity
	s.identities[identity.ID] = &copied
	s.names[newKey] = identity.ID
	return nil
}
