package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/pkg/metrics"
)

type memoryEntry struct {
	value     []byte
	reqType   RequestType
	createdAt time.Time
	expiresAt time.Time
}

// Memory is a capacity-bounded in-process cache guarded by a single mutex.
// Expiry uses the monotonic reading inside time.Time, so wall-clock jumps
// cannot resurrect or prematurely kill entries.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	capacity int
	ttls     TTLs
	now      func() time.Time
}

// NewMemory returns a cache holding at most capacity entries with the
// default TTL windows.
func NewMemory(capacity int) *Memory {
	return NewMemoryTTL(capacity, TTLs{})
}

// NewMemoryTTL returns a cache with configured freshness windows.
func NewMemoryTTL(capacity int, ttls TTLs) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		entries:  make(map[string]memoryEntry, capacity),
		capacity: capacity,
		ttls:     ttls,
		now:      time.Now,
	}
}

func (c *Memory) Get(_ context.Context, rt RequestType, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(string(rt)).Inc()
		return nil, false, nil
	}
	// expires_at itself is already expired
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		metrics.CacheMisses.WithLabelValues(string(rt)).Inc()
		return nil, false, nil
	}
	metrics.CacheHits.WithLabelValues(string(rt)).Inc()
	return e.value, true, nil
}

func (c *Memory) Set(_ context.Context, rt RequestType, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = memoryEntry{
		value:     value,
		reqType:   rt,
		createdAt: now,
		expiresAt: now.Add(c.ttls.For(rt)),
	}
	if len(c.entries) > c.capacity {
		c.evictLocked(now)
	}
	return nil
}

// evictLocked first sweeps expired entries; if the cache is still over
// capacity it drops the oldest tenth by insertion time.
func (c *Memory) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.capacity {
		return
	}

	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, aged{key: key, at: e.createdAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].key < all[j].key
		}
		return all[i].at.Before(all[j].at)
	})
	drop := c.capacity / 10
	if drop < 1 {
		drop = 1
	}
	for _, a := range all[:drop] {
		delete(c.entries, a.key)
	}
}

func (c *Memory) InvalidateType(_ context.Context, rt RequestType) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if e.reqType == rt {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

func (c *Memory) InvalidateAll(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]memoryEntry, c.capacity)
	return n, nil
}

// Len reports live entries, counting expired ones not yet evicted.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
