package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"escrow/internal/identity/models"
	id "escrow/pkg/domain"
)

const identityKeyPrefix = "escrow:identity:"

// Backing is the store the cache reads through to.
type Backing interface {
	CreateIfNameAvailable(ctx context.Context, identity *models.Identity) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	Exists(ctx context.Context, identityID id.IdentityID) (bool, error)
	UpdateIfNameAvailable(ctx context.Context, identity *models.Identity) error
}

// CachedStore is a Redis read-through cache in front of a Backing store.
// Membership checks gate every mint and purchase, so they are served from
// Redis when possible. Writes go to the backing store first and then
// invalidate the cached entry. Redis failures fall back to the backing store.
type CachedStore struct {
	backing Backing
	client  *redis.Client
	ttl     time.Duration
	lookups *prometheus.CounterVec
}

type CachedStoreOption func(*CachedStore)

// WithLookupCounter records cache hits and misses under the "result" label.
func WithLookupCounter(c *prometheus.CounterVec) CachedStoreOption {
	return func(s *CachedStore) {
		s.lookups = c
	}
}

func NewCached(backing Backing, client *redis.Client, ttl time.Duration, opts ...CachedStoreOption) *CachedStore {
	s := &CachedStore{backing: backing, client: client, ttl: ttl}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *CachedStore) CreateIfNameAvailable(ctx context.Context, identity *models.Identity) error {
	if err := s.backing.CreateIfNameAvailable(ctx, identity); err != nil {
		return err
	}
	s.put(ctx, identity)
	return nil
}

func (s *CachedStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	if identity, ok := s.get(ctx, identityID); ok {
		return identity, nil
	}
	identity, err := s.backing.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, identity)
	return identity, nil
}

func (s *CachedStore) Exists(ctx context.Context, identityID id.IdentityID) (bool, error) {
	if _, ok := s.get(ctx, identityID); ok {
		return true, nil
	}
	return s.backing.Exists(ctx, identityID)
}

func (s *CachedStore) UpdateIfNameAvailable(ctx context.Context, identity *models.Identity) error {
	if err := s.backing.UpdateIfNameAvailable(ctx, identity); err != nil {
		return err
	}
	_ = s.client.Del(ctx, identityKeyPrefix+identity.ID.String()).Err()
	return nil
}

func (s *CachedStore) get(ctx context.Context, identityID id.IdentityID) (*models.Identity, bool) {
	raw, err := s.client.Get(ctx, identityKeyPrefix+identityID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.record("miss")
		} else {
			s.record("error")
		}
		return nil, false
	}
	var identity models.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		s.record("error")
		return nil, false
	}
	s.record("hit")
	return &identity, true
}

func (s *CachedStore) put(ctx context.Context, identity *models.Identity) {
	raw, err := json.Marshal(identity)
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, identityKeyPrefix+identity.ID.String(), raw, s.ttl).Err()
}

func (s *CachedStore) record(result string) {
	if s.lookups != nil {
		s.lookups.WithLabelValues(result).Inc()
	}
}

