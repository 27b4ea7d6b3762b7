package metrics

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// Source is the narrow view of the state store the collector polls. It is
// satisfied by storage.Store.
type Source interface {
	CountTenants(ctx context.Context) (int, error)
	CountModels(ctx context.Context) (int, error)
	CountPlansByState(ctx context.Context) (map[types.PlanState]int, error)
	CountRunsByStatus(ctx context.Context) (map[types.RunStatus]int, error)
}

// Collector periodically snapshots store-level gauges
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectTenantMetrics(ctx)
	c.collectModelMetrics(ctx)
	c.collectPlanMetrics(ctx)
	c.collectRunMetrics(ctx)
}

func (c *Collector) collectTenantMetrics(ctx context.Context) {
	count, err := c.source.CountTenants(ctx)
	if err != nil {
		return
	}
	TenantsTotal.Set(float64(count))
}

func (c *Collector) collectModelMetrics(ctx context.Context) {
	count, err := c.source.CountModels(ctx)
	if err != nil {
		return
	}
	ModelsTotal.Set(float64(count))
}

func (c *Collector) collectPlanMetrics(ctx context.Context) {
	counts, err := c.source.CountPlansByState(ctx)
	if err != nil {
		return
	}
	for state, count := range counts {
		PlansTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectRunMetrics(ctx context.Context) {
	counts, err := c.source.CountRunsByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range counts {
		RunsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
