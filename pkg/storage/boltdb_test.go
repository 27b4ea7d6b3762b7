package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltTenantCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tenant := &types.Tenant{ID: "acme", Name: "Acme Corp", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	err := store.CreateTenant(ctx, tenant)
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict))

	got, err := store.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	got.LLMEnabled = true
	require.NoError(t, store.UpdateTenant(ctx, got))
	got, err = store.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, got.LLMEnabled)

	_, err = store.GetTenant(ctx, "ghost")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))

	require.NoError(t, store.CreateTenant(ctx, &types.Tenant{ID: "beta", Name: "Beta"}))
	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, "acme", tenants[0].ID)
	assert.Equal(t, "beta", tenants[1].ID)
}

func TestBoltTenantKeyIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// "acme" must not see entities of "acme-corp" through prefix scans
	require.NoError(t, store.UpsertModel(ctx, "acme", &types.ModelDefinition{Name: "orders"}))
	require.NoError(t, store.UpsertModel(ctx, "acme-corp", &types.ModelDefinition{Name: "users"}))
	require.NoError(t, store.UpsertModel(ctx, "acme-corp", &types.ModelDefinition{Name: "events"}))

	models, err := store.ListModels(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "orders", models[0].Name)

	models, err = store.ListModels(ctx, "acme-corp")
	require.NoError(t, err)
	assert.Len(t, models, 2)

	_, err = store.GetModel(ctx, "acme", "users")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestBoltSearchModels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertModel(ctx, "acme", &types.ModelDefinition{Name: "analytics.orders"}))
	require.NoError(t, store.UpsertModel(ctx, "acme", &types.ModelDefinition{Name: "analytics.order_items"}))
	require.NoError(t, store.UpsertModel(ctx, "acme", &types.ModelDefinition{Name: "staging.users"}))

	models, err := store.SearchModels(ctx, "acme", "ORDER")
	require.NoError(t, err)
	assert.Len(t, models, 2)

	models, err = store.SearchModels(ctx, "acme", "users")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "staging.users", models[0].Name)

	// Wildcard characters match literally, not as patterns.
	models, err = store.SearchModels(ctx, "acme", "%")
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestBoltUserEmailUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &types.User{ID: "u1", TenantID: "acme", Email: "dev@acme.test", Role: types.RoleEngineer}
	require.NoError(t, store.CreateUser(ctx, user))

	dup := &types.User{ID: "u2", TenantID: "acme", Email: "DEV@acme.test"}
	err := store.CreateUser(ctx, dup)
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict), "email match is case insensitive")

	// same email under another tenant is fine
	other := &types.User{ID: "u3", TenantID: "beta", Email: "dev@acme.test"}
	require.NoError(t, store.CreateUser(ctx, other))

	got, err := store.GetUserByEmail(ctx, "acme", "dev@ACME.test")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	count, err := store.CountUsers(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBoltAPIKeyLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	key := &types.APIKey{ID: "k1", TenantID: "acme", Name: "ci", Prefix: "deadbeef", Hash: "x", Role: types.RoleOperator, CreatedAt: now}
	require.NoError(t, store.CreateAPIKey(ctx, key))

	err := store.CreateAPIKey(ctx, &types.APIKey{ID: "k2", TenantID: "beta", Prefix: "deadbeef"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict), "prefix is globally unique")

	got, err := store.GetAPIKeyByPrefix(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.ID)
	assert.Equal(t, "acme", got.TenantID)

	used := now.Add(time.Minute)
	require.NoError(t, store.TouchAPIKey(ctx, "acme", "k1", used))
	got, err = store.GetAPIKeyByPrefix(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, used.Unix(), got.LastUsed.Unix())

	require.NoError(t, store.DeleteAPIKey(ctx, "acme", "k1"))
	_, err = store.GetAPIKeyByPrefix(ctx, "deadbeef")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestBoltRevocations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rev := types.TokenRevocation{TenantID: "acme", JTI: "jti-1", ExpiresAt: now.Add(time.Hour), RevokedAt: now}
	require.NoError(t, store.InsertRevocation(ctx, rev))
	require.NoError(t, store.InsertRevocation(ctx, types.TokenRevocation{
		TenantID: "acme", JTI: "jti-2", ExpiresAt: now.Add(-time.Minute), RevokedAt: now.Add(-2 * time.Hour),
	}))

	revoked, err := store.IsRevoked(ctx, "acme", "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, "beta", "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "revocations are tenant scoped")

	removed, err := store.DeleteExpiredRevocations(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	revoked, err = store.IsRevoked(ctx, "acme", "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked, "unexpired revocation survives the sweep")
}

func TestBoltModelVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	models := []*types.ModelDefinition{
		{Name: "stg_orders", RawSQL: "SELECT 1"},
		{Name: "mart_orders", RawSQL: "SELECT 2"},
	}
	require.NoError(t, store.SaveModelVersions(ctx, "acme", "rev-abc", models))

	got, err := store.GetModelVersions(ctx, "acme", "rev-abc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// bucket keys sort by name
	assert.Equal(t, "mart_orders", got[0].Name)
	assert.Equal(t, "stg_orders", got[1].Name)

	got, err = store.GetModelVersions(ctx, "acme", "rev-missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBoltPlanLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"pln-1", "pln-2", "pln-3"} {
		plan := &types.Plan{
			PlanID:    id,
			TenantID:  "acme",
			State:     types.PlanStateDraft,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.CreatePlan(ctx, plan))
	}

	err := store.CreatePlan(ctx, &types.Plan{PlanID: "pln-1", TenantID: "acme"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict))

	require.NoError(t, store.UpdatePlanState(ctx, "acme", "pln-2", types.PlanStateApplied, base.Add(time.Hour)))
	got, err := store.GetPlan(ctx, "acme", "pln-2")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStateApplied, got.State)
	assert.Equal(t, base.Add(time.Hour).Unix(), got.UpdatedAt.Unix())

	// newest first
	plans, err := store.ListPlans(ctx, "acme", PlanFilter{})
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "pln-3", plans[0].PlanID)

	plans, err = store.ListPlans(ctx, "acme", PlanFilter{State: types.PlanStateDraft})
	require.NoError(t, err)
	assert.Len(t, plans, 2)

	plans, err = store.ListPlans(ctx, "acme", PlanFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "pln-2", plans[0].PlanID)

	apr := &types.Approval{PlanID: "pln-1", TenantID: "acme", Actor: "user:u1", Approved: true, CreatedAt: base}
	require.NoError(t, store.AddApproval(ctx, apr))
	require.NoError(t, store.AddApproval(ctx, &types.Approval{PlanID: "pln-1", TenantID: "acme", Actor: "user:u2", Approved: false, CreatedAt: base.Add(time.Minute)}))

	approvals, err := store.ListApprovals(ctx, "acme", "pln-1")
	require.NoError(t, err)
	require.Len(t, approvals, 2)
	assert.Equal(t, "user:u1", approvals[0].Actor, "insertion order preserved")
}

func TestBoltRunsAndTelemetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	run := &types.RunRecord{RunID: "run-1", TenantID: "acme", PlanID: "pln-1", StepID: "s1", Model: "orders", Status: types.RunStatusPending, StartedAt: base}
	require.NoError(t, store.CreateRun(ctx, run))

	run.Status = types.RunStatusCompleted
	run.FinishedAt = base.Add(time.Minute)
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err := store.GetRun(ctx, "acme", "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, got.Status)

	require.NoError(t, store.CreateRun(ctx, &types.RunRecord{RunID: "run-2", TenantID: "acme", PlanID: "pln-1", StepID: "s2", Model: "orders", Status: types.RunStatusPending, StartedAt: base.Add(time.Second)}))
	runs, err := store.ListRunsByPlan(ctx, "acme", "pln-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].RunID)

	rows := []types.TelemetryRow{
		{RunID: "run-1", TenantID: "acme", Model: "orders", RuntimeSecs: 10, RecordedAt: base},
		{RunID: "run-2", TenantID: "acme", Model: "orders", RuntimeSecs: 20, RecordedAt: base.Add(time.Hour)},
		{RunID: "run-3", TenantID: "acme", Model: "orders", RuntimeSecs: 30, RecordedAt: base.Add(2 * time.Hour)},
		{RunID: "run-4", TenantID: "acme", Model: "users", RuntimeSecs: 5, RecordedAt: base.Add(time.Hour)},
	}
	require.NoError(t, store.InsertTelemetry(ctx, rows))

	got2, err := store.ListTelemetry(ctx, "acme", "orders", base.Add(30*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got2, 2)
	assert.Equal(t, 20.0, got2[0].RuntimeSecs, "oldest first")

	// limit keeps the newest samples
	got2, err = store.ListTelemetry(ctx, "acme", "orders", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, got2, 2)
	assert.Equal(t, 20.0, got2[0].RuntimeSecs)
	assert.Equal(t, 30.0, got2[1].RuntimeSecs)

	removed, err := store.PruneTelemetry(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestBoltAuditSequenceOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for seq := int64(1); seq <= 12; seq++ {
		entry := types.AuditEntry{
			Sequence: seq, TenantID: "acme", Actor: "user:u1",
			Action: "plan.generate", PreviousHash: "p", EntryHash: "e",
			CreatedAt: now,
		}
		require.NoError(t, store.AppendAudit(ctx, entry))
	}

	err := store.AppendAudit(ctx, types.AuditEntry{Sequence: 12, TenantID: "acme", Actor: "x", Action: "y"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindIntegrity), "duplicate sequence is an integrity failure")

	tip, err := store.LatestAudit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(12), tip.Sequence, "zero padded keys keep numeric order past 9")

	_, err = store.LatestAudit(ctx, "beta")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))

	page, err := store.ListAudit(ctx, "acme", 5, 5)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(6), page[0].Sequence)
	assert.Equal(t, int64(10), page[4].Sequence)
}

func TestBoltUsageTotals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	events := []types.UsageEvent{
		{EventID: "e1", TenantID: "acme", EventType: types.UsagePlanRun, Quantity: 1, CreatedAt: base},
		{EventID: "e2", TenantID: "acme", EventType: types.UsagePlanRun, Quantity: 1, CreatedAt: base.Add(time.Hour)},
		{EventID: "e3", TenantID: "acme", EventType: types.UsageAICall, Quantity: 0.25, CreatedAt: base.Add(time.Hour)},
		{EventID: "e4", TenantID: "acme", EventType: types.UsagePlanRun, Quantity: 1, CreatedAt: base.Add(48 * time.Hour)},
	}
	require.NoError(t, store.InsertUsage(ctx, events))

	count, qty, err := store.UsageTotals(ctx, "acme", types.UsagePlanRun, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2.0, qty)

	count, qty, err = store.UsageTotals(ctx, "acme", types.UsageAICall, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0.25, qty)

	listed, err := store.ListUsage(ctx, "acme", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	removed, err := store.PruneUsage(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestBoltSubscriptionUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSubscription(ctx, "acme")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))

	sub := &types.Subscription{TenantID: "acme", Tier: types.TierCommunity, Seats: 5, PlanRunQuota: 50}
	require.NoError(t, store.UpsertSubscription(ctx, sub))

	sub.Tier = types.TierTeam
	sub.Seats = 25
	require.NoError(t, store.UpsertSubscription(ctx, sub))

	got, err := store.GetSubscription(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, types.TierTeam, got.Tier)
	assert.Equal(t, 25, got.Seats)
}

func TestBoltSchedulesDue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	schedules := []*types.Schedule{
		{ID: "s1", TenantID: "acme", Name: "never-ran", CadenceSecs: 600, Enabled: true},
		{ID: "s2", TenantID: "acme", Name: "due", CadenceSecs: 600, Enabled: true, LastRunAt: now.Add(-11 * time.Minute)},
		{ID: "s3", TenantID: "acme", Name: "not-due", CadenceSecs: 600, Enabled: true, LastRunAt: now.Add(-5 * time.Minute)},
		{ID: "s4", TenantID: "acme", Name: "disabled", CadenceSecs: 600, Enabled: false},
		{ID: "s5", TenantID: "acme", Name: "no-cadence", CadenceSecs: 0, Enabled: true},
	}
	for _, schedule := range schedules {
		require.NoError(t, store.CreateSchedule(ctx, schedule))
	}

	due, err := store.ListDueSchedules(ctx, "acme", now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "s1", due[0].ID)
	assert.Equal(t, "s2", due[1].ID)

	// exactly at the cadence boundary counts as due
	boundary := now.Add(-10 * time.Minute)
	s3, err := store.GetSchedule(ctx, "acme", "s3")
	require.NoError(t, err)
	s3.LastRunAt = boundary
	require.NoError(t, store.UpdateSchedule(ctx, s3))
	due, err = store.ListDueSchedules(ctx, "acme", now)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	require.NoError(t, store.DeleteSchedule(ctx, "acme", "s1"))
	_, err = store.GetSchedule(ctx, "acme", "s1")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestBoltEnvironments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	env := &types.Environment{
		TenantID: "acme",
		Name:     "staging",
		Rules: []types.RewriteRule{
			{SourceSchema: "analytics", TargetSchema: "analytics_staging"},
		},
	}
	require.NoError(t, store.UpsertEnvironment(ctx, env))

	got, err := store.GetEnvironment(ctx, "acme", "staging")
	require.NoError(t, err)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, "analytics_staging", got.Rules[0].TargetSchema)

	env.Rules = append(env.Rules, types.RewriteRule{SourceCatalog: "raw", TargetCatalog: "raw_staging"})
	require.NoError(t, store.UpsertEnvironment(ctx, env))
	got, err = store.GetEnvironment(ctx, "acme", "staging")
	require.NoError(t, err)
	assert.Len(t, got.Rules, 2)

	envs, err := store.ListEnvironments(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, envs, 1)

	require.NoError(t, store.DeleteEnvironment(ctx, "acme", "staging"))
	_, err = store.GetEnvironment(ctx, "acme", "staging")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestBoltWebhookCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hook := &types.WebhookSubscription{
		ID: "wh-1", TenantID: "acme", URL: "https://hooks.acme.test/ingest",
		EventTypes: []string{"plan.applied"}, SecretHash: "h", Active: true,
	}
	require.NoError(t, store.CreateWebhook(ctx, hook))

	err := store.CreateWebhook(ctx, hook)
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict))

	hook.Active = false
	require.NoError(t, store.UpdateWebhook(ctx, hook))
	got, err := store.GetWebhook(ctx, "acme", "wh-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	hooks, err := store.ListWebhooks(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, hooks, 1)

	require.NoError(t, store.DeleteWebhook(ctx, "acme", "wh-1"))
	_, err = store.GetWebhook(ctx, "acme", "wh-1")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestBoltFleetCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &types.Tenant{ID: "acme"}))
	require.NoError(t, store.CreateTenant(ctx, &types.Tenant{ID: "beta"}))
	require.NoError(t, store.UpsertModel(ctx, "acme", &types.ModelDefinition{Name: "orders"}))
	require.NoError(t, store.UpsertModel(ctx, "beta", &types.ModelDefinition{Name: "users"}))
	require.NoError(t, store.UpsertModel(ctx, "beta", &types.ModelDefinition{Name: "events"}))
	require.NoError(t, store.CreatePlan(ctx, &types.Plan{PlanID: "p1", TenantID: "acme", State: types.PlanStateDraft}))
	require.NoError(t, store.CreatePlan(ctx, &types.Plan{PlanID: "p2", TenantID: "beta", State: types.PlanStateDraft}))
	require.NoError(t, store.CreatePlan(ctx, &types.Plan{PlanID: "p3", TenantID: "beta", State: types.PlanStateApplied}))
	require.NoError(t, store.CreateRun(ctx, &types.RunRecord{RunID: "r1", TenantID: "acme", Status: types.RunStatusRunning}))

	tenants, err := store.CountTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tenants)

	models, err := store.CountModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, models)

	plans, err := store.CountPlansByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, plans[types.PlanStateDraft])
	assert.Equal(t, 1, plans[types.PlanStateApplied])

	runs, err := store.CountRunsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, runs[types.RunStatusRunning])
}

func TestBoltWithTenantLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.WithTenantLock(ctx, "acme", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// another tenant's lock is independent
	done := make(chan struct{})
	go func() {
		_ = store.WithTenantLock(ctx, "beta", func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock for a different tenant blocked")
	}

	// same tenant blocks until released
	sameDone := make(chan struct{})
	go func() {
		_ = store.WithTenantLock(ctx, "acme", func(context.Context) error { return nil })
		close(sameDone)
	}()
	select {
	case <-sameDone:
		t.Fatal("second lock for the same tenant did not block")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-sameDone:
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not released")
	}
}
