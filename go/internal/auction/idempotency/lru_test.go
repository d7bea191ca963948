package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUStoreKeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s, err := NewLRUStore(8, time.Minute, clock)
	require.NoError(t, err)

	bidID := uuid.New()
	require.NoError(t, s.Put(ctx, "k", Record{BidID: &bidID, Amount: 100}, 0))
	require.NoError(t, s.Put(ctx, "k", Record{Reject: RejectTooLow, Amount: 100, Minimum: 105}, 0))

	rec, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.BidID)
	assert.Equal(t, bidID, *rec.BidID)
	assert.Empty(t, rec.Reject)
}

func TestLRUStoreExpires(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s, err := NewLRUStore(8, time.Minute, clock)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k", Record{Reject: RejectNotInAuction}, 10*time.Second))

	clock.Advance(9 * time.Second)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLRUStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s, err := NewLRUStore(2, time.Minute, clockwork.NewFakeClock())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a", Record{Amount: 1}, 0))
	require.NoError(t, s.Put(ctx, "b", Record{Amount: 2}, 0))
	require.NoError(t, s.Put(ctx, "c", Record{Amount: 3}, 0))

	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	rec, ok, _ := s.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, int64(3), rec.Amount)
}

func TestTieredFillsLocalFromShared(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	local, err := NewLRUStore(8, time.Minute, clock)
	require.NoError(t, err)
	shared, err := NewLRUStore(8, time.Minute, clock)
	require.NoError(t, err)

	require.NoError(t, shared.Put(ctx, "k", Record{Reject: RejectTooLow, Minimum: 105}, 0))

	tiered := Tiered{Local: local, Shared: shared}
	rec, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(105), rec.Minimum)

	rec, ok, _ = local.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, RejectTooLow, rec.Reject)

	require.NoError(t, tiered.Put(ctx, "j", Record{Amount: 7}, 0))
	_, ok, _ = shared.Get(ctx, "j")
	assert.True(t, ok)
}
