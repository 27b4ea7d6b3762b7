package governance

import (
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/metrics"
)

// RateLimiter is a per-key sliding window: a deque of request timestamps
// per key, pruned on every decision. The instance for authentication
// endpoints is configured tighter than the general API one.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter builds a limiter admitting limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		buckets: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow admits or denies one request for the key. Denials carry the whole
// seconds after which the oldest in-window request will have expired, so a
// client waiting that long is guaranteed a slot.
func (l *RateLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	q := l.buckets[key]
	for len(q) > 0 && !q[0].After(cutoff) {
		q = q[1:]
	}

	if len(q) >= l.limit {
		l.buckets[key] = q
		// rounded up so a retry after exactly this many seconds always
		// finds the oldest request outside the window; a full window
		// reports window+1, never less
		retryAfter := int(q[0].Add(l.window).Sub(now).Seconds()) + 1
		metrics.RateLimitedTotal.Inc()
		return errdefs.RateLimitedf(retryAfter, "rate limit of %d per %s exceeded", l.limit, l.window)
	}

	l.buckets[key] = append(q, now)
	return nil
}

// Sweep evicts keys whose newest request left the window, bounding the
// bucket map. The scheduler calls this periodically.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, q := range l.buckets {
		if len(q) == 0 || !q[len(q)-1].After(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
