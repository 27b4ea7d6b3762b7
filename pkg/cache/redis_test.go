package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisGetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	_, found, err := c.Get(ctx, RequestClassify, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, RequestClassify, "k1", []byte("v1")))
	got, found, err := c.Get(ctx, RequestClassify, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), got)
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(ctx, RequestCost, "k", []byte("v")))
	mr.FastForward(14 * time.Minute)
	_, found, err := c.Get(ctx, RequestCost, "k")
	require.NoError(t, err)
	assert.True(t, found)

	mr.FastForward(2 * time.Minute)
	_, found, err = c.Get(ctx, RequestCost, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisInvalidateType(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	require.NoError(t, c.Set(ctx, RequestClassify, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, RequestClassify, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, RequestOptimize, "c", []byte("3")))

	n, err := c.InvalidateType(ctx, RequestClassify)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, _ := c.Get(ctx, RequestClassify, "a")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, RequestOptimize, "c")
	assert.True(t, found)
}

func TestRedisInvalidateAll(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(ctx, RequestClassify, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, RequestCost, "b", []byte("2")))
	// A foreign key outside our prefix must survive.
	require.NoError(t, mr.Set("unrelated", "x"))

	n, err := c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("unrelated"))
}
