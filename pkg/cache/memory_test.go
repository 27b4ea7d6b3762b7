package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives expiry without sleeping.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestMemory(capacity int) (*Memory, *fakeClock) {
	c := NewMemory(capacity)
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	c.now = clk.now
	return c, clk
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemory(10)

	_, found, err := c.Get(ctx, RequestClassify, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, RequestClassify, "k1", []byte("v1")))
	got, found, err := c.Get(ctx, RequestClassify, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), got)
}

func TestMemoryLazyExpiry(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestMemory(10)

	require.NoError(t, c.Set(ctx, RequestCost, "k", []byte("v")))
	clk.advance(14 * time.Minute)
	_, found, _ := c.Get(ctx, RequestCost, "k")
	assert.True(t, found, "inside the 15m cost window")

	clk.advance(2 * time.Minute)
	_, found, _ = c.Get(ctx, RequestCost, "k")
	assert.False(t, found, "past the 15m cost window")
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on lookup")
}

func TestMemoryExpiryBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestMemory(10)

	require.NoError(t, c.Set(ctx, RequestCost, "k", []byte("v")))

	// A read at exactly expires_at must miss; the window is [created, expires).
	clk.advance(15 * time.Minute)
	_, found, _ := c.Get(ctx, RequestCost, "k")
	assert.False(t, found, "entry read at t == expires_at must be gone")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryPerTypeTTLs(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestMemory(10)

	require.NoError(t, c.Set(ctx, RequestClassify, "classify", []byte("a")))
	require.NoError(t, c.Set(ctx, RequestCost, "cost", []byte("b")))
	require.NoError(t, c.Set(ctx, RequestOptimize, "optimize", []byte("c")))

	clk.advance(16 * time.Minute)
	_, found, _ := c.Get(ctx, RequestCost, "cost")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, RequestOptimize, "optimize")
	assert.True(t, found)

	clk.advance(15 * time.Minute) // 31m total
	_, found, _ = c.Get(ctx, RequestOptimize, "optimize")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, RequestClassify, "classify")
	assert.True(t, found)

	clk.advance(30 * time.Minute) // 61m total
	_, found, _ = c.Get(ctx, RequestClassify, "classify")
	assert.False(t, found)
}

func TestMemoryCapacitySweepsExpiredFirst(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestMemory(20)

	// Ten entries that will be expired by the time capacity is hit.
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, RequestCost, fmt.Sprintf("old-%d", i), []byte("v")))
	}
	clk.advance(16 * time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, RequestClassify, fmt.Sprintf("new-%d", i), []byte("v")))
	}

	// The 21st insert sweeps the ten expired entries; no live entry is lost.
	require.NoError(t, c.Set(ctx, RequestClassify, "overflow", []byte("v")))
	assert.Equal(t, 11, c.Len())
	_, found, _ := c.Get(ctx, RequestClassify, "new-0")
	assert.True(t, found)
}

func TestMemoryCapacityEvictsOldestTenth(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestMemory(20)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Set(ctx, RequestClassify, fmt.Sprintf("k-%02d", i), []byte("v")))
		clk.advance(time.Second)
	}
	// Nothing is expired; the oldest 10% (two entries) must go.
	require.NoError(t, c.Set(ctx, RequestClassify, "k-20", []byte("v")))

	assert.Equal(t, 19, c.Len())
	_, found, _ := c.Get(ctx, RequestClassify, "k-00")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, RequestClassify, "k-01")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, RequestClassify, "k-02")
	assert.True(t, found)
	_, found, _ = c.Get(ctx, RequestClassify, "k-20")
	assert.True(t, found)
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemory(10)

	require.NoError(t, c.Set(ctx, RequestClassify, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, RequestClassify, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, RequestCost, "c", []byte("3")))

	n, err := c.InvalidateType(ctx, RequestClassify)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, found, _ := c.Get(ctx, RequestCost, "c")
	assert.True(t, found)

	n, err = c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, c.Len())
}

func TestKeyDeterministic(t *testing.T) {
	type payload struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	k1, err := Key(RequestClassify, "v3", payload{Old: "a", New: "b"})
	require.NoError(t, err)
	k2, err := Key(RequestClassify, "v3", payload{Old: "a", New: "b"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	// Any component changing moves the key.
	k3, _ := Key(RequestClassify, "v4", payload{Old: "a", New: "b"})
	assert.NotEqual(t, k1, k3)
	k4, _ := Key(RequestCost, "v3", payload{Old: "a", New: "b"})
	assert.NotEqual(t, k1, k4)
	k5, _ := Key(RequestClassify, "v3", payload{Old: "a", New: "x"})
	assert.NotEqual(t, k1, k5)
}

func TestKeyMapPayloadOrderIndependent(t *testing.T) {
	k1, err := Key(RequestCost, "v1", map[string]any{"model": "a.b", "partitions": 3})
	require.NoError(t, err)
	k2, err := Key(RequestCost, "v1", map[string]any{"partitions": 3, "model": "a.b"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}
