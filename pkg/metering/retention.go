package metering

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/types"
)

const (
	defaultRawWindow    = 30 * 24 * time.Hour
	defaultHourlyWindow = 365 * 24 * time.Hour
	defaultUsageWindow  = 90 * 24 * time.Hour
)

// RetentionStore is the slice of the storage layer the aggregator needs.
type RetentionStore interface {
	ListTenants(ctx context.Context) ([]*types.Tenant, error)
	ListTelemetryBetween(ctx context.Context, tenantID string, since, until time.Time) ([]types.TelemetryRow, error)
	UpsertTelemetryAggregates(ctx context.Context, aggs []types.TelemetryAggregate) error
	PruneTelemetry(ctx context.Context, before time.Time) (int, error)
	PruneTelemetryAggregates(ctx context.Context, granularity types.AggregateGranularity, before time.Time) (int, error)
	PruneUsage(ctx context.Context, before time.Time) (int, error)
}

// AggregatorConfig tunes retention windows. Daily aggregates are kept
// indefinitely and have no window.
type AggregatorConfig struct {
	RawWindow    time.Duration
	HourlyWindow time.Duration
	UsageWindow  time.Duration
	Clock        func() time.Time
}

// Aggregator rolls raw telemetry into hourly and daily buckets and prunes
// data past its retention window. RunOnce is idempotent: re-running over
// the same window recomputes the same buckets.
type Aggregator struct {
	store        RetentionStore
	rawWindow    time.Duration
	hourlyWindow time.Duration
	usageWindow  time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store RetentionStore, cfg AggregatorConfig) *Aggregator {
	if cfg.RawWindow <= 0 {
		cfg.RawWindow = defaultRawWindow
	}
	if cfg.HourlyWindow <= 0 {
		cfg.HourlyWindow = defaultHourlyWindow
	}
	if cfg.UsageWindow <= 0 {
		cfg.UsageWindow = defaultUsageWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Aggregator{
		store:        store,
		rawWindow:    cfg.RawWindow,
		hourlyWindow: cfg.HourlyWindow,
		usageWindow:  cfg.UsageWindow,
		now:          cfg.Clock,
		logger:       log.WithComponent("retention"),
	}
}

// RunOnce aggregates the raw telemetry window for every tenant, then
// prunes raw telemetry, hourly aggregates, and usage events past their
// windows. Per-tenant failures are logged and do not stop the sweep.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	now := a.now().UTC()
	since := now.Add(-a.rawWindow)

	tenants, err := a.store.ListTenants(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, tenant := range tenants {
		if err := a.aggregateTenant(ctx, tenant.ID, since, now); err != nil {
			a.logger.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("telemetry aggregation failed")
			errs = append(errs, err)
		}
	}

	pruned, err := a.store.PruneTelemetry(ctx, since)
	if err != nil {
		errs = append(errs, err)
	} else if pruned > 0 {
		a.logger.Info().Int("rows", pruned).Msg("pruned raw telemetry")
	}

	pruned, err = a.store.PruneTelemetryAggregates(ctx, types.GranularityHourly, now.Add(-a.hourlyWindow))
	if err != nil {
		errs = append(errs, err)
	} else if pruned > 0 {
		a.logger.Info().Int("rows", pruned).Msg("pruned hourly aggregates")
	}

	pruned, err = a.store.PruneUsage(ctx, now.Add(-a.usageWindow))
	if err != nil {
		errs = append(errs, err)
	} else if pruned > 0 {
		a.logger.Info().Int("rows", pruned).Msg("pruned usage events")
	}

	return errors.Join(errs...)
}

func (a *Aggregator) aggregateTenant(ctx context.Context, tenantID string, since, now time.Time) error {
	rows, err := a.store.ListTelemetryBetween(ctx, tenantID, since, now)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	aggs := buildAggregates(tenantID, rows, now)
	return a.store.UpsertTelemetryAggregates(ctx, aggs)
}

type bucketKey struct {
	model       string
	granularity types.AggregateGranularity
	start       time.Time
}

// buildAggregates groups rows by (model, hour) and (model, day) and
// summarizes each group.
func buildAggregates(tenantID string, rows []types.TelemetryRow, now time.Time) []types.TelemetryAggregate {
	groups := make(map[bucketKey][]types.TelemetryRow)
	for _, row := range rows {
		at := row.RecordedAt.UTC()
		hourly := bucketKey{model: row.Model, granularity: types.GranularityHourly, start: at.Truncate(time.Hour)}
		daily := bucketKey{
			model:       row.Model,
			granularity: types.GranularityDaily,
			start:       time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
		}
		groups[hourly] = append(groups[hourly], row)
		groups[daily] = append(groups[daily], row)
	}

	aggs := make([]types.TelemetryAggregate, 0, len(groups))
	for key, group := range groups {
		aggs = append(aggs, summarize(tenantID, key, group, now))
	}
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].Granularity != aggs[j].Granularity {
			return aggs[i].Granularity < aggs[j].Granularity
		}
		if !aggs[i].BucketStart.Equal(aggs[j].BucketStart) {
			return aggs[i].BucketStart.Before(aggs[j].BucketStart)
		}
		return aggs[i].Model < aggs[j].Model
	})
	return aggs
}

func summarize(tenantID string, key bucketKey, rows []types.TelemetryRow, now time.Time) types.TelemetryAggregate {
	runtimes := make([]float64, 0, len(rows))
	var totalRuntime float64
	var totalShuffle, totalRows int64
	for _, row := range rows {
		runtimes = append(runtimes, row.RuntimeSecs)
		totalRuntime += row.RuntimeSecs
		totalShuffle += row.ShuffleBytes
		totalRows += row.OutputRows
	}
	sort.Float64s(runtimes)

	return types.TelemetryAggregate{
		TenantID:     tenantID,
		Model:        key.model,
		Granularity:  key.granularity,
		BucketStart:  key.start,
		RunCount:     len(rows),
		AvgRuntime:   totalRuntime / float64(len(rows)),
		TotalShuffle: totalShuffle,
		TotalRows:    totalRows,
		P50Runtime:   percentileFloat(runtimes, 50),
		P95Runtime:   percentileFloat(runtimes, 95),
		CreatedAt:    now,
	}
}

// percentileFloat computes the nearest-rank percentile over sorted values.
func percentileFloat(sorted []float64, pct int) float64 {
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
