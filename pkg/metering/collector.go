package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/scrub"
	"github.com/ironlayer/ironlayer/pkg/types"
)

const (
	defaultFlushSize     = 64
	defaultFlushInterval = 10 * time.Second
	flushTimeout         = 15 * time.Second
)

// Sink receives flushed usage event batches.
type Sink interface {
	WriteUsage(ctx context.Context, events []types.UsageEvent) error
}

// CollectorConfig tunes the buffered collector.
type CollectorConfig struct {
	FlushSize     int
	FlushInterval time.Duration
	Clock         func() time.Time
}

// Collector buffers usage events in memory and flushes them to a sink on
// a size threshold or a timer, whichever comes first.
type Collector struct {
	sink      Sink
	flushSize int
	interval  time.Duration
	now       func() time.Time

	mu  sync.Mutex
	buf []types.UsageEvent

	kick   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a collector writing to sink.
func NewCollector(sink Sink, cfg CollectorConfig) *Collector {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = defaultFlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Collector{
		sink:      sink,
		flushSize: cfg.FlushSize,
		interval:  cfg.FlushInterval,
		now:       cfg.Clock,
		buf:       make([]types.UsageEvent, 0, cfg.FlushSize),
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Record buffers one event. Missing ids and timestamps are filled in, and
// string metadata is scrubbed before the event ever reaches a sink.
func (c *Collector) Record(event types.UsageEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = c.now().UTC()
	}
	for k, v := range event.Metadata {
		event.Metadata[k] = scrub.Text(v)
	}

	c.mu.Lock()
	c.buf = append(c.buf, event)
	full := len(c.buf) >= c.flushSize
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Start launches the flush loop.
func (c *Collector) Start() {
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush()
			case <-c.kick:
				c.flush()
			case <-c.stopCh:
				c.flush()
				return
			}
		}
	}()
}

// Stop drains the buffer and stops the flush loop.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Flush writes any buffered events immediately. Exposed for tests and
// shutdown paths that need a context.
func (c *Collector) Flush(ctx context.Context) error {
	batch := c.swap()
	if len(batch) == 0 {
		return nil
	}
	if err := c.sink.WriteUsage(ctx, batch); err != nil {
		metrics.UsageEventsDropped.Add(float64(len(batch)))
		return err
	}
	metrics.UsageEventsFlushed.Add(float64(len(batch)))
	return nil
}

func (c *Collector) swap() []types.UsageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return nil
	}
	batch := c.buf
	c.buf = make([]types.UsageEvent, 0, c.flushSize)
	return batch
}

func (c *Collector) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		meterLog := log.WithComponent("metering")
		meterLog.Warn().Err(err).Msg("failed to flush usage events, batch dropped")
	}
}
