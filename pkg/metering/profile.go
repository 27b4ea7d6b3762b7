package metering

import (
	"sort"
	"sync"
	"time"
)

// Profiled operation names. Callers pass these to Track and Observe so
// stats stay comparable across processes.
const (
	OpDagBuild     = "dag.build"
	OpSQLNormalize = "sql.normalize"
	OpSQLASTDiff   = "sql.ast_diff"
	OpSQLHash      = "sql.hash"
	OpSQLRewrite   = "sql.rewrite"
)

const defaultRingCapacity = 512

// OpStats summarizes the retained samples for one operation.
type OpStats struct {
	Op    string        `json:"op"`
	Count int           `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

type ring struct {
	samples []time.Duration
	next    int
	full    bool
}

func (r *ring) add(d time.Duration) {
	if r.next < len(r.samples) && !r.full {
		r.samples[r.next] = d
		r.next++
		if r.next == len(r.samples) {
			r.full = true
			r.next = 0
		}
		return
	}
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
}

func (r *ring) snapshot() []time.Duration {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	out := make([]time.Duration, n)
	copy(out, r.samples[:n])
	return out
}

// Profiler retains a bounded window of duration samples per operation and
// reports nearest-rank percentiles over that window.
type Profiler struct {
	capacity int

	mu    sync.Mutex
	rings map[string]*ring
}

// NewProfiler creates a profiler keeping up to capacity samples per op.
func NewProfiler(capacity int) *Profiler {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Profiler{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Observe records one sample for op. Old samples are evicted once the
// ring is full.
func (p *Profiler) Observe(op string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rings[op]
	if !ok {
		r = &ring{samples: make([]time.Duration, p.capacity)}
		p.rings[op] = r
	}
	r.add(d)
}

// Track starts a timer for op and returns a func that records the elapsed
// duration. Intended for defer:
//
//	defer profiler.Track(metering.OpDagBuild)()
func (p *Profiler) Track(op string) func() {
	start := time.Now()
	return func() {
		p.Observe(op, time.Since(start))
	}
}

// Stats returns the percentile summary for one op. The zero OpStats is
// returned when the op has no samples.
func (p *Profiler) Stats(op string) OpStats {
	p.mu.Lock()
	r, ok := p.rings[op]
	var samples []time.Duration
	if ok {
		samples = r.snapshot()
	}
	p.mu.Unlock()

	stats := OpStats{Op: op, Count: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	stats.P50 = percentile(samples, 50)
	stats.P95 = percentile(samples, 95)
	stats.P99 = percentile(samples, 99)
	return stats
}

// Snapshot returns stats for every op seen so far, sorted by op name.
func (p *Profiler) Snapshot() []OpStats {
	p.mu.Lock()
	ops := make([]string, 0, len(p.rings))
	for op := range p.rings {
		ops = append(ops, op)
	}
	p.mu.Unlock()

	sort.Strings(ops)
	out := make([]OpStats, 0, len(ops))
	for _, op := range ops {
		out = append(out, p.Stats(op))
	}
	return out
}

// percentile computes the nearest-rank percentile over sorted samples.
func percentile(sorted []time.Duration, pct int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Default is the process-wide profiler used by the hot paths in the
// planner and SQL packages.
var Default = NewProfiler(defaultRingCapacity)

// Track records into the default profiler.
func Track(op string) func() {
	return Default.Track(op)
}

// Observe records into the default profiler.
func Observe(op string, d time.Duration) {
	Default.Observe(op, d)
}

// Snapshot reports the default profiler's stats.
func Snapshot() []OpStats {
	return Default.Snapshot()
}
