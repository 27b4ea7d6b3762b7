package storage

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// PlanFilter narrows plan listings. Zero values mean no constraint.
type PlanFilter struct {
	State  types.PlanState
	Limit  int
	Offset int
}

// Store is the persistence boundary for all control-plane state. Both
// backends enforce tenant scoping: bolt through composite keys, postgres
// through row-level security plus application-level predicates.
//
// Identity lookups (tenant by id, user by email, API key by prefix,
// revocations) run before a tenant context exists and are therefore the
// only reads not guarded by the postgres session variable.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, tenant *types.Tenant) error
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	ListTenants(ctx context.Context) ([]*types.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *types.Tenant) error

	// Users
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, tenantID, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, tenantID, email string) (*types.User, error)
	ListUsers(ctx context.Context, tenantID string) ([]*types.User, error)
	UpdateUser(ctx context.Context, user *types.User) error
	DeleteUser(ctx context.Context, tenantID, id string) error
	CountUsers(ctx context.Context, tenantID string) (int, error)

	// API keys. Prefix lookup is global: the key itself names the tenant.
	CreateAPIKey(ctx context.Context, key *types.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*types.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]*types.APIKey, error)
	TouchAPIKey(ctx context.Context, tenantID, keyID string, usedAt time.Time) error
	DeleteAPIKey(ctx context.Context, tenantID, keyID string) error

	// Token revocations
	InsertRevocation(ctx context.Context, rev types.TokenRevocation) error
	IsRevoked(ctx context.Context, tenantID, jti string) (bool, error)
	DeleteExpiredRevocations(ctx context.Context, before time.Time) (int, error)

	// Models: the registry holds the latest definition per name;
	// versions are immutable snapshots keyed by revision.
	UpsertModel(ctx context.Context, tenantID string, model *types.ModelDefinition) error
	GetModel(ctx context.Context, tenantID, name string) (*types.ModelDefinition, error)
	ListModels(ctx context.Context, tenantID string) ([]*types.ModelDefinition, error)
	SearchModels(ctx context.Context, tenantID, term string) ([]*types.ModelDefinition, error)
	DeleteModel(ctx context.Context, tenantID, name string) error
	SaveModelVersions(ctx context.Context, tenantID, revision string, models []*types.ModelDefinition) error
	GetModelVersions(ctx context.Context, tenantID, revision string) ([]*types.ModelDefinition, error)

	// Plans and approvals
	CreatePlan(ctx context.Context, plan *types.Plan) error
	GetPlan(ctx context.Context, tenantID, planID string) (*types.Plan, error)
	ListPlans(ctx context.Context, tenantID string, filter PlanFilter) ([]*types.Plan, error)
	UpdatePlanState(ctx context.Context, tenantID, planID string, state types.PlanState, updatedAt time.Time) error
	AddApproval(ctx context.Context, approval *types.Approval) error
	ListApprovals(ctx context.Context, tenantID, planID string) ([]types.Approval, error)

	// Runs and telemetry
	CreateRun(ctx context.Context, run *types.RunRecord) error
	UpdateRun(ctx context.Context, run *types.RunRecord) error
	GetRun(ctx context.Context, tenantID, runID string) (*types.RunRecord, error)
	ListRunsByPlan(ctx context.Context, tenantID, planID string) ([]*types.RunRecord, error)
	InsertTelemetry(ctx context.Context, rows []types.TelemetryRow) error
	ListTelemetry(ctx context.Context, tenantID, model string, since time.Time, limit int) ([]types.TelemetryRow, error)
	ListTelemetryBetween(ctx context.Context, tenantID string, since, until time.Time) ([]types.TelemetryRow, error)
	PruneTelemetry(ctx context.Context, before time.Time) (int, error)

	// Telemetry aggregates produced by the retention job
	UpsertTelemetryAggregates(ctx context.Context, aggs []types.TelemetryAggregate) error
	ListTelemetryAggregates(ctx context.Context, tenantID, model string, granularity types.AggregateGranularity, since time.Time) ([]types.TelemetryAggregate, error)
	PruneTelemetryAggregates(ctx context.Context, granularity types.AggregateGranularity, before time.Time) (int, error)

	// Audit chain (satisfies governance.AuditStore)
	AppendAudit(ctx context.Context, entry types.AuditEntry) error
	LatestAudit(ctx context.Context, tenantID string) (*types.AuditEntry, error)
	ListAudit(ctx context.Context, tenantID string, limit, offset int) ([]types.AuditEntry, error)

	// Usage events (metering sink and guard aggregates)
	InsertUsage(ctx context.Context, events []types.UsageEvent) error
	UsageTotals(ctx context.Context, tenantID string, eventType types.UsageEventType, since, until time.Time) (count int, quantity float64, err error)
	ListUsage(ctx context.Context, tenantID string, since, until time.Time) ([]types.UsageEvent, error)
	PruneUsage(ctx context.Context, before time.Time) (int, error)

	// Subscriptions
	UpsertSubscription(ctx context.Context, sub *types.Subscription) error
	GetSubscription(ctx context.Context, tenantID string) (*types.Subscription, error)

	// Webhook subscriptions
	CreateWebhook(ctx context.Context, hook *types.WebhookSubscription) error
	GetWebhook(ctx context.Context, tenantID, id string) (*types.WebhookSubscription, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]*types.WebhookSubscription, error)
	UpdateWebhook(ctx context.Context, hook *types.WebhookSubscription) error
	DeleteWebhook(ctx context.Context, tenantID, id string) error

	// Schedules. Due listing is per tenant so the postgres backend can run
	// it inside a tenant-scoped transaction.
	CreateSchedule(ctx context.Context, schedule *types.Schedule) error
	GetSchedule(ctx context.Context, tenantID, id string) (*types.Schedule, error)
	ListSchedules(ctx context.Context, tenantID string) ([]*types.Schedule, error)
	ListDueSchedules(ctx context.Context, tenantID string, now time.Time) ([]*types.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *types.Schedule) error
	DeleteSchedule(ctx context.Context, tenantID, id string) error

	// Environments
	UpsertEnvironment(ctx context.Context, env *types.Environment) error
	GetEnvironment(ctx context.Context, tenantID, name string) (*types.Environment, error)
	ListEnvironments(ctx context.Context, tenantID string) ([]*types.Environment, error)
	DeleteEnvironment(ctx context.Context, tenantID, name string) error

	// WithTenantLock serializes critical sections per tenant: a pg
	// advisory transaction lock in postgres, an in-process mutex in bolt.
	WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error

	// Fleet-wide counts backing process gauges (satisfies metrics.Source).
	CountTenants(ctx context.Context) (int, error)
	CountModels(ctx context.Context) (int, error)
	CountPlansByState(ctx context.Context) (map[types.PlanState]int, error)
	CountRunsByStatus(ctx context.Context) (map[types.RunStatus]int, error)

	Ping(ctx context.Context) error
	Close() error
}
