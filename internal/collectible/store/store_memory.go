package store

import (
	"context"
	"sync"

	"escrow/internal/collectible/models"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
)

// InMemory holds items behind one RWMutex. Execute keeps the write lock across
// validate and mutate, so two purchases of one item cannot both pass
// CanMarkSold.
type InMemory struct {
	mu    sync.RWMutex
	items map[id.ItemID]*models.Item
}

func NewInMemory() *InMemory {
	return &InMemory{items: make(map[id.ItemID]*models.Item)}
}

func (s *InMemory) Create(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, itemID id.ItemID) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *InMemory) GetStatus(ctx context.Context, itemID id.ItemID) (models.Status, error) {
	item, err := s.FindByID(ctx, itemID)
	if err != nil {
		return "", err
	}
	return item.Status, nil
}

// Execute loads the item, runs validate, and applies mutate only when
// validate passes. The stored item is replaced atomically.
func (s *InMemory) Execute(_ context.Context, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := existing.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.items[itemID] = working
	return working.Clone(), nil
}

// Restore overwrites the stored item. Transaction rollback uses it to put back
// the pre-image captured before a mutation.
func (s *InMemory) Restore(_ context.Context, item *models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.Clone()
}

// Delete removes an item. Only rollback of a failed mint uses it.
func (s *InMemory) Delete(_ context.Context, itemID id.ItemID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, itemID)
}
