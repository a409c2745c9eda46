package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "escrow/pkg/platform/audit"
	"escrow/pkg/platform/audit/store/memory"
	"escrow/pkg/platform/circuit"
)

type flakyStore struct {
	err   error
	calls int
}

func (f *flakyStore) Append(context.Context, audit.Event) error {
	f.calls++
	return f.err
}

func TestAppend_PrimaryHealthy(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{}
	local := memory.NewInMemoryStore()
	s := New(primary, local)

	require.NoError(t, s.Append(ctx, audit.Event{Action: "item_minted"}))
	assert.Equal(t, 1, primary.calls)
	recent, err := local.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.False(t, s.Degraded())
}

func TestAppend_FailuresGoToFallbackAndOpenBreaker(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{err: errors.New("broker unreachable")}
	local := memory.NewInMemoryStore()
	s := New(primary, local, WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))))

	require.NoError(t, s.Append(ctx, audit.Event{Action: "item_sold"}))
	assert.False(t, s.Degraded())
	require.NoError(t, s.Append(ctx, audit.Event{Action: "claim_redeemed"}))
	assert.True(t, s.Degraded())

	recent, err := local.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	primary.err = nil
	require.NoError(t, s.Append(ctx, audit.Event{Action: "item_sold"}))
	assert.False(t, s.Degraded())
}

func TestAppend_BothFail(t *testing.T) {
	s := New(&flakyStore{err: errors.New("primary")}, &flakyStore{err: errors.New("disk full")})
	err := s.Append(context.Background(), audit.Event{})
	assert.EqualError(t, err, "disk full")
}
