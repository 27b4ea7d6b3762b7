package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// backoffDelays is the penalty ladder applied once failures reach the
// threshold. The last rung repeats for every further failure.
var backoffDelays = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	900 * time.Second,
}

const defaultBackoffThreshold = 3

// LoginBackoff tracks failed login attempts per (email, ip) pair and
// delays further attempts exponentially. State is in-memory; a restart
// forgives outstanding penalties, which is acceptable because the tighter
// auth-endpoint rate limit still applies.
type LoginBackoff struct {
	mu        sync.Mutex
	records   map[string]*loginRecord
	threshold int
	retention time.Duration
	now       func() time.Time
}

type loginRecord struct {
	failures     int
	lastFailure  time.Time
	blockedUntil time.Time
}

// NewLoginBackoff builds a tracker. Threshold <= 0 selects the default of
// three failures; retention <= 0 keeps records for one hour.
func NewLoginBackoff(threshold int, retention time.Duration) *LoginBackoff {
	if threshold <= 0 {
		threshold = defaultBackoffThreshold
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &LoginBackoff{
		records:   make(map[string]*loginRecord),
		threshold: threshold,
		retention: retention,
		now:       time.Now,
	}
}

func backoffKey(email, ip string) string {
	return fmt.Sprintf("%s|%s", email, ip)
}

// Allow reports whether a login attempt may proceed now. A blocked pair
// gets a rate-limited error carrying the remaining wait in whole seconds,
// rounded up so the client never retries early.
func (b *LoginBackoff) Allow(email, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[backoffKey(email, ip)]
	if !ok {
		return nil
	}
	now := b.now()
	if !rec.blockedUntil.After(now) {
		return nil
	}
	remaining := rec.blockedUntil.Sub(now)
	secs := int((remaining + time.Second - 1) / time.Second)
	return errdefs.RateLimitedf(secs, "too many failed logins, retry in %ds", secs)
}

// RecordFailure notes a failed attempt and, once the threshold is reached,
// schedules the next allowed attempt on the penalty ladder.
func (b *LoginBackoff) RecordFailure(email, ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := backoffKey(email, ip)
	rec, ok := b.records[key]
	if !ok {
		rec = &loginRecord{}
		b.records[key] = rec
	}
	now := b.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures < b.threshold {
		return
	}
	rung := rec.failures - b.threshold
	if rung >= len(backoffDelays) {
		rung = len(backoffDelays) - 1
	}
	rec.blockedUntil = now.Add(backoffDelays[rung])
}

// RecordSuccess clears all penalty state for the pair.
func (b *LoginBackoff) RecordSuccess(email, ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, backoffKey(email, ip))
}

// Sweep drops records whose last failure is older than the retention
// window. The scheduler calls this periodically so the map cannot grow
// without bound under a credential-stuffing run.
func (b *LoginBackoff) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.retention)
	removed := 0
	for key, rec := range b.records {
		if rec.lastFailure.Before(cutoff) {
			delete(b.records, key)
			removed++
		}
	}
	return removed
}
