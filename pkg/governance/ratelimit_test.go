package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(3, 10*time.Second)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("t-acme"), "request %d", i)
		now = now.Add(time.Second)
	}

	// fourth request inside the window is denied with honest retry-after:
	// the oldest stamp (t+0) expires at t+10, now is t+3
	err := l.Allow("t-acme")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindRateLimited, errdefs.KindOf(err))
	var taxErr *errdefs.Error
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, 8, taxErr.RetryAfterSecs)

	// other tenants are unaffected
	require.NoError(t, l.Allow("t-other"))

	// waiting the advertised time admits the next request
	now = now.Add(time.Duration(taxErr.RetryAfterSecs) * time.Second)
	require.NoError(t, l.Allow("t-acme"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(2, 10*time.Second)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Allow("k"))
	now = now.Add(9 * time.Second)
	require.NoError(t, l.Allow("k"))
	require.Error(t, l.Allow("k"))

	// first stamp leaves the window, opening exactly one slot
	now = now.Add(2 * time.Second)
	require.NoError(t, l.Allow("k"))
	require.Error(t, l.Allow("k"))
}

func TestRateLimiterDefaults(t *testing.T) {
	l := NewRateLimiter(0, 0)
	assert.Equal(t, 100, l.limit)
	assert.Equal(t, time.Minute, l.window)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(5, 10*time.Second)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Allow("stale"))
	now = now.Add(30 * time.Second)
	require.NoError(t, l.Allow("fresh"))

	assert.Equal(t, 1, l.Sweep())
	assert.NotContains(t, l.buckets, "stale")
	assert.Contains(t, l.buckets, "fresh")
}
