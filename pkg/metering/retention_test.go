package metering

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/storage"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func newRetentionStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "metering.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func telemetryRow(runID, model string, at time.Time, runtime float64, shuffle, rows int64) types.TelemetryRow {
	return types.TelemetryRow{
		RunID:        runID,
		TenantID:     "acme",
		Model:        model,
		RuntimeSecs:  runtime,
		ShuffleBytes: shuffle,
		OutputRows:   rows,
		RecordedAt:   at,
	}
}

func TestAggregatorRunOnce(t *testing.T) {
	ctx := context.Background()
	store := newRetentionStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateTenant(ctx, &types.Tenant{ID: "acme", Name: "Acme"}))
	require.NoError(t, store.InsertTelemetry(ctx, []types.TelemetryRow{
		telemetryRow("run-1", "orders", now.Add(-2*time.Hour).Add(5*time.Minute), 1.0, 100, 10),
		telemetryRow("run-2", "orders", now.Add(-2*time.Hour).Add(25*time.Minute), 3.0, 200, 20),
		telemetryRow("run-3", "orders", now.Add(-time.Hour).Add(10*time.Minute), 2.0, 300, 30),
		telemetryRow("run-0", "orders", now.Add(-40*24*time.Hour), 9.0, 999, 99),
	}))
	require.NoError(t, store.InsertUsage(ctx, []types.UsageEvent{
		{EventID: "evt-old", TenantID: "acme", EventType: types.UsageAICall, Quantity: 1, CreatedAt: now.Add(-120 * 24 * time.Hour)},
		{EventID: "evt-new", TenantID: "acme", EventType: types.UsageAICall, Quantity: 1, CreatedAt: now.Add(-time.Hour)},
	}))

	agg := NewAggregator(store, AggregatorConfig{Clock: func() time.Time { return now }})
	require.NoError(t, agg.RunOnce(ctx))

	hourly, err := store.ListTelemetryAggregates(ctx, "acme", "", types.GranularityHourly, time.Time{})
	require.NoError(t, err)
	require.Len(t, hourly, 2)

	first := hourly[0]
	assert.Equal(t, now.Add(-2*time.Hour), first.BucketStart)
	assert.Equal(t, 2, first.RunCount)
	assert.InDelta(t, 2.0, first.AvgRuntime, 1e-9)
	assert.Equal(t, int64(300), first.TotalShuffle)
	assert.Equal(t, int64(30), first.TotalRows)
	assert.InDelta(t, 1.0, first.P50Runtime, 1e-9)
	assert.InDelta(t, 3.0, first.P95Runtime, 1e-9)

	daily, err := store.ListTelemetryAggregates(ctx, "acme", "orders", types.GranularityDaily, time.Time{})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), daily[0].BucketStart)
	assert.Equal(t, 3, daily[0].RunCount)
	assert.Equal(t, int64(600), daily[0].TotalShuffle)
	assert.InDelta(t, 2.0, daily[0].P50Runtime, 1e-9)

	// The 40-day-old raw row fell outside the retention window.
	raw, err := store.ListTelemetry(ctx, "acme", "orders", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, raw, 3)

	// The 120-day-old usage event was pruned; the recent one survives.
	count, _, err := store.UsageTotals(ctx, "acme", types.UsageAICall, time.Time{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAggregatorIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newRetentionStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateTenant(ctx, &types.Tenant{ID: "acme", Name: "Acme"}))
	require.NoError(t, store.InsertTelemetry(ctx, []types.TelemetryRow{
		telemetryRow("run-1", "orders", now.Add(-30*time.Minute), 2.0, 100, 10),
	}))

	agg := NewAggregator(store, AggregatorConfig{Clock: func() time.Time { return now }})
	require.NoError(t, agg.RunOnce(ctx))
	require.NoError(t, agg.RunOnce(ctx))

	hourly, err := store.ListTelemetryAggregates(ctx, "acme", "", types.GranularityHourly, time.Time{})
	require.NoError(t, err)
	assert.Len(t, hourly, 1)
	assert.Equal(t, 1, hourly[0].RunCount)
}

func TestAggregatorPrunesHourlyAggregates(t *testing.T) {
	ctx := context.Background()
	store := newRetentionStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateTenant(ctx, &types.Tenant{ID: "acme", Name: "Acme"}))
	stale := types.TelemetryAggregate{
		TenantID:    "acme",
		Model:       "orders",
		Granularity: types.GranularityHourly,
		BucketStart: now.Add(-400 * 24 * time.Hour),
		RunCount:    5,
		CreatedAt:   now.Add(-400 * 24 * time.Hour),
	}
	keptDaily := types.TelemetryAggregate{
		TenantID:    "acme",
		Model:       "orders",
		Granularity: types.GranularityDaily,
		BucketStart: now.Add(-400 * 24 * time.Hour),
		RunCount:    5,
		CreatedAt:   now.Add(-400 * 24 * time.Hour),
	}
	require.NoError(t, store.UpsertTelemetryAggregates(ctx, []types.TelemetryAggregate{stale, keptDaily}))

	agg := NewAggregator(store, AggregatorConfig{Clock: func() time.Time { return now }})
	require.NoError(t, agg.RunOnce(ctx))

	hourly, err := store.ListTelemetryAggregates(ctx, "acme", "", types.GranularityHourly, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, hourly)

	// Daily aggregates are kept indefinitely.
	daily, err := store.ListTelemetryAggregates(ctx, "acme", "", types.GranularityDaily, time.Time{})
	require.NoError(t, err)
	assert.Len(t, daily, 1)
}

func TestBuildAggregatesGroupsByModelAndBucket(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	rows := []types.TelemetryRow{
		telemetryRow("run-1", "orders", now.Add(-90*time.Minute), 1.0, 10, 1),
		telemetryRow("run-2", "customers", now.Add(-90*time.Minute), 2.0, 20, 2),
	}

	aggs := buildAggregates("acme", rows, now)

	// Two models in one hour and one day each: 2 hourly + 2 daily buckets.
	require.Len(t, aggs, 4)
	for _, a := range aggs {
		assert.Equal(t, "acme", a.TenantID)
		assert.Equal(t, 1, a.RunCount)
		assert.Equal(t, now, a.CreatedAt)
	}
}
