package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

const today = "2026-03-10"

// def builds a minimal model definition for planning tests. ContentHash is
// opaque to the planner, so tests set it directly.
func def(name, hash, sql string, mut ...func(*types.ModelDefinition)) *types.ModelDefinition {
	m := &types.ModelDefinition{
		Name:        name,
		Kind:        types.KindFullRefresh,
		Dialect:     types.DialectDatabricks,
		CleanSQL:    sql,
		ContentHash: hash,
	}
	for _, fn := range mut {
		fn(m)
	}
	return m
}

func snapshot(rev string, defs ...*types.ModelDefinition) (types.Snapshot, map[string]*types.ModelDefinition) {
	snap := types.Snapshot{Revision: rev, Models: map[string]string{}}
	byName := map[string]*types.ModelDefinition{}
	for _, d := range defs {
		snap.Models[d.Name] = d.ContentHash
		byName[d.Name] = d
	}
	return snap, byName
}

func generate(t *testing.T, req Request) *types.Plan {
	t.Helper()
	plan, err := New(Config{}).Generate(context.Background(), req)
	require.NoError(t, err)
	return plan
}

func TestCosmeticOnlyCommit(t *testing.T) {
	base, baseModels := snapshot("rev-a",
		def("analytics.orders", "h1", "SELECT id, amount FROM raw.orders"))
	target, targetModels := snapshot("rev-b",
		def("analytics.orders", "h2", "select  id,\n amount from raw.orders  -- touched"))

	req := Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today}
	plan := generate(t, req)

	assert.Equal(t, 0, plan.Summary.TotalSteps)
	assert.Empty(t, plan.Steps)
	assert.Equal(t, []string{"analytics.orders"}, plan.Summary.CosmeticChangesSkipped)
	assert.Empty(t, plan.Summary.ModelsChanged)

	rerun := generate(t, req)
	assert.Equal(t, plan.PlanID, rerun.PlanID, "independent rerun must produce the same plan id")
}

func TestBreakingDownstreamPropagation(t *testing.T) {
	raw := def("staging.raw_orders", "hr", "SELECT * FROM landing.orders_feed")
	dailyOld := def("analytics.orders_daily", "hd1",
		"SELECT order_date, SUM(amount) AS total FROM staging.raw_orders GROUP BY order_date",
		func(m *types.ModelDefinition) { m.References = []string{"staging.raw_orders"} })
	dailyNew := def("analytics.orders_daily", "hd2",
		"SELECT order_date, AVG(amount) AS total FROM staging.raw_orders GROUP BY order_date",
		func(m *types.ModelDefinition) { m.References = []string{"staging.raw_orders"} })
	weekly := def("reporting.orders_weekly", "hw",
		"SELECT order_date, total FROM analytics.orders_daily",
		func(m *types.ModelDefinition) { m.References = []string{"analytics.orders_daily"} })

	base, baseModels := snapshot("rev-a", raw, dailyOld, weekly)
	target, targetModels := snapshot("rev-b", raw, dailyNew, weekly)

	plan := generate(t, Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today})

	require.Len(t, plan.Steps, 2)
	first, second := plan.Steps[0], plan.Steps[1]

	assert.Equal(t, "analytics.orders_daily", first.Model)
	assert.Equal(t, types.RunTypeFullRefresh, first.RunType)
	assert.Equal(t, 0, first.ParallelGroup)
	assert.Empty(t, first.DependsOn)
	assert.Equal(t, types.ChangeMetricSemantic, first.Change)

	assert.Equal(t, "reporting.orders_weekly", second.Model)
	assert.Equal(t, types.RunTypeFullRefresh, second.RunType)
	assert.Equal(t, 1, second.ParallelGroup)
	assert.Equal(t, []string{first.StepID}, second.DependsOn)
	assert.Equal(t, types.ChangeMetricSemantic, second.Change, "downstream inherits the upstream classification")

	assert.Equal(t, []string{"analytics.orders_daily"}, plan.Summary.ModelsChanged)
	assert.True(t, plan.Summary.EstimatedUSD > 0)
}

func TestAddedModelGetsFullRefresh(t *testing.T) {
	base, baseModels := snapshot("rev-a")
	target, targetModels := snapshot("rev-b",
		def("analytics.fresh", "h1", "SELECT 1 AS one"))

	plan := generate(t, Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today})

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, types.RunTypeFullRefresh, plan.Steps[0].RunType)
	assert.Equal(t, "model added", plan.Steps[0].Reason)
}

func TestRemovedModelProducesNoStep(t *testing.T) {
	base, baseModels := snapshot("rev-a",
		def("analytics.legacy", "h1", "SELECT 1 AS one"))
	target, targetModels := snapshot("rev-b")

	plan := generate(t, Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today})
	assert.Empty(t, plan.Steps)
}

func TestIncrementalInputRange(t *testing.T) {
	incremental := func(hash, sql string) *types.ModelDefinition {
		return def("analytics.events_daily", hash, sql, func(m *types.ModelDefinition) {
			m.Kind = types.KindIncrementalByTimeRange
			m.TimeColumn = "event_date"
		})
	}
	base, baseModels := snapshot("rev-a",
		incremental("h1", "SELECT event_date, user_id FROM raw.events"))
	target, targetModels := snapshot("rev-b",
		incremental("h2", "SELECT event_date, user_id, device FROM raw.events"))

	// With a completed range on record, the window starts the day after.
	plan := generate(t, Request{
		Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels,
		Hints: map[string]TelemetryHint{"analytics.events_daily": {LastCompletedEnd: "2026-03-05"}},
		Today: today,
	})
	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Equal(t, types.RunTypeIncremental, step.RunType)
	require.NotNil(t, step.InputRange)
	assert.Equal(t, "2026-03-06", step.InputRange.Start)
	assert.Equal(t, today, step.InputRange.End)

	// Without history the lookback bounds the window.
	plan = generate(t, Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today})
	require.NotNil(t, plan.Steps[0].InputRange)
	assert.Equal(t, "2026-03-03", plan.Steps[0].InputRange.Start)
}

func TestEmptyDiffDeterministicPlanID(t *testing.T) {
	m := def("analytics.orders", "h1", "SELECT 1 AS one")
	base, baseModels := snapshot("rev-a", m)
	target, targetModels := snapshot("rev-b", m)

	req := Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today}
	plan := generate(t, req)
	rerun := generate(t, req)

	assert.Empty(t, plan.Steps)
	assert.NotEmpty(t, plan.PlanID)
	assert.Equal(t, plan.PlanID, rerun.PlanID)
}

func TestContractViolationsAttachToStep(t *testing.T) {
	withContract := func(hash, sql string, contracts ...types.ColumnContract) *types.ModelDefinition {
		return def("analytics.orders", hash, sql, func(m *types.ModelDefinition) {
			m.Columns = []string{"id"}
			m.Contracts = contracts
		})
	}
	base, baseModels := snapshot("rev-a",
		withContract("h1", "SELECT id, amount FROM raw.orders",
			types.ColumnContract{Column: "id", DataType: "BIGINT"},
			types.ColumnContract{Column: "amount", DataType: "DECIMAL(14,4)"}))
	target, targetModels := snapshot("rev-b",
		withContract("h2", "SELECT id FROM raw.orders",
			types.ColumnContract{Column: "id", DataType: "BIGINT"}))

	plan := generate(t, Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today})

	require.Len(t, plan.Steps, 1)
	require.NotEmpty(t, plan.Steps[0].Violations)
	assert.Equal(t, plan.Summary.ContractViolations, len(plan.Steps[0].Violations))
	assert.True(t, plan.Summary.BreakingContractViolations >= 1)
}

func TestStepIDExcludesCost(t *testing.T) {
	a := types.PlanStep{Model: "analytics.orders", RunType: types.RunTypeFullRefresh, ContentHash: "h", EstimatedUSD: 1}
	b := types.PlanStep{Model: "analytics.orders", RunType: types.RunTypeFullRefresh, ContentHash: "h", EstimatedUSD: 99}
	assert.Equal(t, stepID(a), stepID(b))

	c := types.PlanStep{Model: "analytics.orders", RunType: types.RunTypeIncremental, ContentHash: "h"}
	assert.NotEqual(t, stepID(a), stepID(c))

	d := types.PlanStep{Model: "analytics.orders", RunType: types.RunTypeIncremental, ContentHash: "h",
		InputRange: &types.DateRange{Start: "2026-03-01", End: "2026-03-10"}}
	assert.NotEqual(t, stepID(c), stepID(d))
}

func TestGenerateRejectsBadInput(t *testing.T) {
	base, baseModels := snapshot("rev-a")
	target, _ := snapshot("rev-b", def("analytics.orders", "h1", "SELECT 1"))

	_, err := New(Config{}).Generate(context.Background(), Request{
		Base: base, Target: target, BaseModels: baseModels,
		TargetModels: map[string]*types.ModelDefinition{}, Today: today,
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	_, err = New(Config{}).Generate(context.Background(), Request{Base: base, Target: target, Today: "bad-date"})
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	_, err = New(Config{}).Generate(context.Background(), Request{Base: base, Target: target})
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
}

func TestPlanSerializationRoundTrip(t *testing.T) {
	base, baseModels := snapshot("rev-a",
		def("analytics.orders", "h1", "SELECT id FROM raw.orders"))
	target, targetModels := snapshot("rev-b",
		def("analytics.orders", "h2", "SELECT id, amount FROM raw.orders"))

	plan := generate(t, Request{Base: base, Target: target, BaseModels: baseModels, TargetModels: targetModels, Today: today})

	raw, err := json.Marshal(plan)
	require.NoError(t, err)
	var decoded types.Plan
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *plan, decoded)
}
