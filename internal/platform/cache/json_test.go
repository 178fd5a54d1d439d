package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Total int `json:"total"`
}

func TestCacheFetchAndBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewCache(client, "inventory", time.Minute)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return summary{Total: calls}, nil
	}

	key, err := c.BuildKey(ctx, "inventory", "analytics")
	require.NoError(t, err)
	require.Equal(t, "inventory:analytics:v1", key)

	var got summary
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 1, got.Total)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 1, got.Total)
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "inventory", "analytics")
	require.NoError(t, err)
	require.Equal(t, "inventory:analytics:v2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 2, got.Total)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("inventory:analytics:v1"))
}

func TestCacheLoaderError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewCache(client, "inventory", time.Minute)

	boom := errors.New("boom")
	var got summary
	err := c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}

func TestNilCacheCallsLoader(t *testing.T) {
	var c *Cache
	var got summary
	require.NoError(t, c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
		return summary{Total: 7}, nil
	}))
	require.Equal(t, 7, got.Total)
	require.NoError(t, c.Bump(context.Background()))
}
