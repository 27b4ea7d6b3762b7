package metering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilerPercentiles(t *testing.T) {
	p := NewProfiler(200)
	for i := 1; i <= 100; i++ {
		p.Observe(OpSQLHash, time.Duration(i)*time.Millisecond)
	}

	stats := p.Stats(OpSQLHash)
	assert.Equal(t, 100, stats.Count)
	assert.Equal(t, 50*time.Millisecond, stats.P50)
	assert.Equal(t, 95*time.Millisecond, stats.P95)
	assert.Equal(t, 99*time.Millisecond, stats.P99)
}

func TestProfilerRingEviction(t *testing.T) {
	p := NewProfiler(4)
	for _, ms := range []int{10, 20, 30, 40, 50} {
		p.Observe(OpDagBuild, time.Duration(ms)*time.Millisecond)
	}

	// The oldest sample (10ms) fell off; the window is {20,30,40,50}.
	stats := p.Stats(OpDagBuild)
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, 30*time.Millisecond, stats.P50)
	assert.Equal(t, 50*time.Millisecond, stats.P99)
}

func TestProfilerTrack(t *testing.T) {
	p := NewProfiler(8)
	done := p.Track(OpSQLNormalize)
	time.Sleep(2 * time.Millisecond)
	done()

	stats := p.Stats(OpSQLNormalize)
	require.Equal(t, 1, stats.Count)
	assert.GreaterOrEqual(t, stats.P50, 2*time.Millisecond)
}

func TestProfilerSnapshotSorted(t *testing.T) {
	p := NewProfiler(8)
	p.Observe(OpSQLRewrite, time.Millisecond)
	p.Observe(OpDagBuild, time.Millisecond)
	p.Observe(OpSQLASTDiff, time.Millisecond)

	snap := p.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, OpDagBuild, snap[0].Op)
	assert.Equal(t, OpSQLASTDiff, snap[1].Op)
	assert.Equal(t, OpSQLRewrite, snap[2].Op)
}

func TestProfilerEmptyOp(t *testing.T) {
	p := NewProfiler(8)
	stats := p.Stats("never.observed")
	assert.Equal(t, 0, stats.Count)
	assert.Zero(t, stats.P50)
}
