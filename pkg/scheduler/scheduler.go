package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/rs/zerolog"
)

// Store is the slice of the state store the loop reads and sweeps.
type Store interface {
	ListTenants(ctx context.Context) ([]*types.Tenant, error)
	ListDueSchedules(ctx context.Context, tenantID string, now time.Time) ([]*types.Schedule, error)
	DeleteExpiredRevocations(ctx context.Context, before time.Time) (int, error)
}

// Runner executes one due schedule. *engine.Engine satisfies it.
type Runner interface {
	RunSchedule(ctx context.Context, schedule *types.Schedule) error
}

// Config tunes the loop. The zero value polls every minute.
type Config struct {
	PollInterval time.Duration
	// TickTimeout bounds one whole poll cycle.
	TickTimeout time.Duration
	// Clock is injected for tests; nil means time.Now.
	Clock func() time.Time
}

const (
	defaultPollInterval = 60 * time.Second
	defaultTickTimeout  = 10 * time.Minute
)

// Scheduler polls enabled schedules and runs due ones, serially per
// tenant so one noisy tenant cannot monopolise the loop.
type Scheduler struct {
	store    Store
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a stopped scheduler.
func New(store Store, runner Runner, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = defaultTickTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Scheduler{
		store:    store,
		runner:   runner,
		interval: cfg.PollInterval,
		timeout:  cfg.TickTimeout,
		now:      cfg.Clock,
		logger:   log.WithComponent("scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop terminates the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Tick runs one poll cycle: due schedules per tenant, then the
// revocation sweep. Exported so tests and the daemon can drive cycles
// without the timer.
func (s *Scheduler) Tick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("tenant listing failed; skipping tick")
		return
	}
	for _, tenant := range tenants {
		s.runTenant(ctx, tenant.ID, now)
		if ctx.Err() != nil {
			s.logger.Warn().Err(ctx.Err()).Msg("tick timed out")
			return
		}
	}

	if pruned, err := s.store.DeleteExpiredRevocations(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("revocation sweep failed")
	} else if pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Msg("expired revocations removed")
	}
}

// runTenant runs the tenant's due schedules one at a time, in the
// deterministic order the store returns them.
func (s *Scheduler) runTenant(ctx context.Context, tenantID string, now time.Time) {
	due, err := s.store.ListDueSchedules(ctx, tenantID, now)
	if err != nil {
		s.logger.Warn().Str("tenant_id", tenantID).Err(err).Msg("due-schedule listing failed")
		return
	}
	for _, schedule := range due {
		if err := s.runner.RunSchedule(ctx, schedule); err != nil {
			s.logger.Warn().
				Str("tenant_id", tenantID).
				Str("schedule_id", schedule.ID).
				Err(err).
				Msg("scheduled run failed")
		}
		if ctx.Err() != nil {
			return
		}
	}
}
