package engine

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/checks"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/events"
	"github.com/ironlayer/ironlayer/pkg/gitsource"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metering"
	"github.com/ironlayer/ironlayer/pkg/planner"
	"github.com/ironlayer/ironlayer/pkg/security"
	"github.com/ironlayer/ironlayer/pkg/storage"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
	"github.com/rs/zerolog"
)

// RepoOpener resolves a repository path to a revision source. The default
// opener shells out to git; tests install an in-memory source.
type RepoOpener func(path string) (gitsource.Source, error)

// Config wires an Engine. Store, Planner, and Audit are required; the
// rest degrade gracefully when nil (no rate limiting, no events, no
// metering, no advisory enrichment, no check dispatch).
type Config struct {
	Store    storage.Store
	Planner  *planner.Planner
	Advisory *advisory.Engine
	Checks   *checks.Registry

	Guard   *governance.Guard
	Audit   *governance.Recorder
	Limiter *governance.RateLimiter

	Bus   *events.Bus
	Meter *metering.Collector

	Warehouse warehouse.Client
	OpenRepo  RepoOpener
	Tokens    *auth.TokenService
	Backoff   *auth.LoginBackoff
	Box       *security.Box
	URLPolicy governance.WebhookURLPolicy

	// DefaultDialect is assumed for model files without a header override.
	DefaultDialect types.Dialect
	// DefaultCluster prices steps whose model declares no cluster size.
	DefaultCluster types.ClusterSize
	// MaxRetries bounds per-step execution attempts during apply.
	MaxRetries int
	// ContractMode selects whether contract check failures block.
	ContractMode checks.ContractMode

	// Clock is injected for tests; nil means time.Now.
	Clock func() time.Time
}

// Engine is the control-plane facade. Safe for concurrent use.
type Engine struct {
	store    storage.Store
	planner  *planner.Planner
	advisory *advisory.Engine
	checks   *checks.Registry

	guard   *governance.Guard
	audit   *governance.Recorder
	limiter *governance.RateLimiter

	bus   *events.Bus
	meter *metering.Collector

	warehouse warehouse.Client
	openRepo  RepoOpener
	tokens    *auth.TokenService
	backoff   *auth.LoginBackoff
	box       *security.Box
	urlPolicy governance.WebhookURLPolicy

	dialect      types.Dialect
	cluster      types.ClusterSize
	maxRetries   int
	contractMode checks.ContractMode

	now    func() time.Time
	logger zerolog.Logger
}

// New builds an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errdefs.Validationf("engine requires a store")
	}
	if cfg.Planner == nil {
		return nil, errdefs.Validationf("engine requires a planner")
	}
	if cfg.Audit == nil {
		return nil, errdefs.Validationf("engine requires an audit recorder")
	}
	if cfg.OpenRepo == nil {
		cfg.OpenRepo = func(path string) (gitsource.Source, error) {
			return gitsource.NewCLI(gitsource.Config{RepoPath: path})
		}
	}
	if cfg.DefaultDialect == "" {
		cfg.DefaultDialect = types.DialectDatabricks
	}
	if cfg.DefaultCluster == "" {
		cfg.DefaultCluster = types.ClusterSmall
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ContractMode == "" {
		cfg.ContractMode = checks.ContractStrict
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		store:        cfg.Store,
		planner:      cfg.Planner,
		advisory:     cfg.Advisory,
		checks:       cfg.Checks,
		guard:        cfg.Guard,
		audit:        cfg.Audit,
		limiter:      cfg.Limiter,
		bus:          cfg.Bus,
		meter:        cfg.Meter,
		warehouse:    cfg.Warehouse,
		openRepo:     cfg.OpenRepo,
		tokens:       cfg.Tokens,
		backoff:      cfg.Backoff,
		box:          cfg.Box,
		urlPolicy:    cfg.URLPolicy,
		dialect:      cfg.DefaultDialect,
		cluster:      cfg.DefaultCluster,
		maxRetries:   cfg.MaxRetries,
		contractMode: cfg.ContractMode,
		now:          cfg.Clock,
		logger:       log.WithComponent("engine"),
	}, nil
}

// require resolves the caller identity, applies the tenant rate limit,
// and checks the permission. Every exposed operation starts here.
func (e *Engine) require(ctx context.Context, perm auth.Permission) (*auth.Identity, error) {
	id, err := governance.IdentityFrom(ctx)
	if err != nil {
		return nil, err
	}
	// the limiter counts its own refusals
	if e.limiter != nil {
		if err := e.limiter.Allow(id.TenantID); err != nil {
			return nil, err
		}
	}
	if err := auth.Require(id, perm); err != nil {
		return nil, err
	}
	return id, nil
}

// record writes an audit entry. Audit failures surface: a governed action
// without its trail must not silently succeed.
func (e *Engine) record(ctx context.Context, id *auth.Identity, action, entityType, entityID string, metadata map[string]string) error {
	if _, err := e.audit.Record(ctx, id.TenantID, id.Subject, action, entityType, entityID, metadata); err != nil {
		return err
	}
	return nil
}

// publish emits a bus event; fire-and-forget by contract.
func (e *Engine) publish(ctx context.Context, eventType events.EventType, tenantID string, data map[string]string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, events.Event{Type: eventType, TenantID: tenantID, Data: data})
}

// meterUsage buffers one usage event when a collector is wired.
func (e *Engine) meterUsage(tenantID string, eventType types.UsageEventType, quantity float64, metadata map[string]string) {
	if e.meter == nil {
		return
	}
	e.meter.Record(types.UsageEvent{
		TenantID:  tenantID,
		EventType: eventType,
		Quantity:  quantity,
		Metadata:  metadata,
	})
}
