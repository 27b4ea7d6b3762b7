/*
Package storage persists all IronLayer control-plane state behind a
single Store interface with two interchangeable backends.

# Architecture

	┌───────────────────────── STORE ─────────────────────────┐
	│                                                          │
	│  ┌──────────────────────┐   ┌─────────────────────────┐ │
	│  │      BoltStore       │   │      PostgresStore      │ │
	│  │  - Single file       │   │  - pgxpool connections  │ │
	│  │  - JSON values       │   │  - Row-level security   │ │
	│  │  - tenant/<id> keys  │   │  - ironlayer.tenant_id  │ │
	│  │  - In-process locks  │   │  - Advisory locks       │ │
	│  └──────────────────────┘   └─────────────────────────┘ │
	│                                                          │
	│  Entities: tenants, users, api_keys, token_revocations, │
	│  models, model_versions, plans, approvals, runs,        │
	│  telemetry, audit_log, usage_events, subscriptions,     │
	│  webhook_subscriptions, schedules, environments         │
	└──────────────────────────────────────────────────────────┘

# Tenant Isolation

Both backends scope every domain read and write to one tenant:

BoltStore keys domain entities as "tenantID/entityID" inside per-entity
buckets. Prefix scans always include the trailing separator, so tenant
"acme" never matches keys of tenant "acme-corp". Isolation is key
discipline only; the file is trusted to a single process.

PostgresStore opens a transaction per domain operation and sets the
ironlayer.tenant_id session variable with set_config(..., true) before
any statement runs. Row-level security policies on all domain tables
compare tenant_id against that variable and are FORCEd, so even a query
missing its WHERE clause cannot cross tenants. Identity tables
(tenants, users, api_keys, token_revocations) establish who the caller
is before a tenant context exists and therefore carry explicit tenant
predicates instead of policies.

# Ordering Guarantees

Audit entries are keyed by zero-padded sequence (bolt) or ordered by
the sequence column (postgres), so pagination order always equals chain
order. The audit tables reject duplicate (tenant, sequence) pairs; the
governance recorder relies on that to detect lost races.

Telemetry listings return oldest-first within the window so cost model
regressions consume samples in arrival order.

# Locks

WithTenantLock serializes multi-statement critical sections (for
example seat counting followed by a user insert). BoltStore holds an
in-process mutex per tenant; PostgresStore holds a session-level
pg_advisory_lock keyed by hashtext(tenant_id) on a pinned connection so
the callback may issue further store calls in their own transactions.

# Usage

	store, err := storage.NewBoltStore("/var/lib/ironlayer/state.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	plan, err := store.GetPlan(ctx, "acme", "pln_01HX...")

Postgres deployments run migrations first:

	if err := storage.Migrate(cfg.Postgres.DSN); err != nil {
		log.Fatal(err)
	}
	store, err := storage.NewPostgresStore(ctx, cfg.Postgres.DSN)

# Error Mapping

Lookups that miss return errdefs.KindNotFound. Duplicate creates return
errdefs.KindConflict. A duplicate audit sequence returns
errdefs.KindIntegrity so the recorder can distinguish a lost append
race from a caller bug. Callers branch on errdefs.KindOf, never on
backend-specific error strings.

# Integration Points

  - pkg/engine: every API operation reads and writes through Store
  - pkg/governance: AuditStore, UsageReader, SubscriptionReader and
    SeatStore are all narrow views of this interface
  - pkg/auth: RevocationStore and APIKeyStore lookups during verification
  - pkg/scheduler: due-schedule polling and retention sweeps
  - pkg/metering: usage event batch inserts
*/
package storage
