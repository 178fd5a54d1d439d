package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryIdempotencyStore()
	store.clock = clock

	require.NoError(t, store.CheckAndInsert(ctx, "channel:amazon:SKU-1:o-1", "channelsync"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "channel:amazon:SKU-1:o-1", "channelsync"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "movement:SKU-1:r-1", "inventory"))
	require.Error(t, store.CheckAndInsert(ctx, "", "inventory"))
	require.Error(t, store.CheckAndInsert(ctx, "k", ""))

	clock.now = clock.now.Add(48 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "channel:amazon:SKU-1:o-2", "channelsync"))

	n, err := store.Cleanup(ctx, "channelsync", clock.now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, store.CheckAndInsert(ctx, "channel:amazon:SKU-1:o-1", "channelsync"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "channel:amazon:SKU-1:o-2", "channelsync"), ErrIdempotencyConflict)
	require.ErrorIs(t, store.CheckAndInsert(ctx, "movement:SKU-1:r-1", "inventory"), ErrIdempotencyConflict)

	require.NoError(t, store.Delete(ctx, "movement:SKU-1:r-1"))
	require.NoError(t, store.CheckAndInsert(ctx, "movement:SKU-1:r-1", "inventory"))
}
