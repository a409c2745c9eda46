//go:build integration

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identitymetrics "escrow/internal/identity/metrics"
	"escrow/internal/identity/models"
	"escrow/internal/identity/proof"
	"escrow/internal/identity/service"
	"escrow/internal/identity/store"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/testutil/containers"
)

func TestCachedPostgresIdentityStore(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	rc := containers.NewRedisContainer(t)
	require.NoError(t, pg.Reset(ctx))
	require.NoError(t, rc.FlushAll(ctx))

	m := identitymetrics.New(prometheus.NewRegistry())
	cached := store.NewCached(store.NewPostgres(pg.DB), rc.Client, time.Minute, store.WithLookupCounter(m.CacheLookups))
	svc, err := service.New(cached, proof.NewSigner("k", "escrow-it", time.Hour), service.WithMetrics(m))
	require.NoError(t, err)

	alice, aliceProof, err := svc.Register(ctx, "Alice", "ipfs://alice")
	require.NoError(t, err)

	t.Run("resolve is served from the cache", func(t *testing.T) {
		got, err := svc.Resolve(ctx, aliceProof)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	})

	t.Run("names are unique ignoring case across the database", func(t *testing.T) {
		_, _, err := svc.Register(ctx, "ALICE", "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateRegistration))
	})

	t.Run("profile update invalidates the cached entry", func(t *testing.T) {
		_, err := svc.UpdateProfile(ctx, aliceProof, "Alice", "ipfs://new")
		require.NoError(t, err)
		n, err := rc.Client.Exists(ctx, "escrow:identity:"+alice.ID.String()).Result()
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := svc.Get(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "ipfs://new", got.AvatarRef)
	})

	t.Run("unknown identities miss and fall through", func(t *testing.T) {
		ok, err := cached.Exists(ctx, id.NewIdentityID())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("backing store survives a flushed cache", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		var got *models.Identity
		got, err = cached.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.DisplayName)
	})
}
