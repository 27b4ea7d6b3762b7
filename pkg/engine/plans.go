package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/events"
	"github.com/ironlayer/ironlayer/pkg/gitsource"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/loader"
	"github.com/ironlayer/ironlayer/pkg/planner"
	"github.com/ironlayer/ironlayer/pkg/storage"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// GenerateRequest names the repository and the two revisions to plan
// between. Refs must satisfy the safe-ref pattern before they reach the
// git subprocess.
type GenerateRequest struct {
	RepoPath  string
	BaseRef   string
	TargetRef string
}

// GeneratePlan diffs the model sets at two revisions and produces a
// deterministic plan. The plan is persisted in DRAFT state, or
// AUTO_APPROVED when nothing in it needs a human decision.
func (e *Engine) GeneratePlan(ctx context.Context, req GenerateRequest) (*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanGenerate)
	if err != nil {
		return nil, err
	}
	if e.guard != nil {
		if err := e.guard.CheckPlanRun(ctx, id.TenantID); err != nil {
			return nil, err
		}
	}
	if err := gitsource.ValidateRef(req.BaseRef); err != nil {
		return nil, err
	}
	if err := gitsource.ValidateRef(req.TargetRef); err != nil {
		return nil, err
	}

	src, err := e.openRepo(req.RepoPath)
	if err != nil {
		return nil, err
	}
	baseRev, err := src.ResolveRef(ctx, req.BaseRef)
	if err != nil {
		return nil, err
	}
	targetRev, err := src.ResolveRef(ctx, req.TargetRef)
	if err != nil {
		return nil, err
	}

	base, err := e.loadModelsAt(ctx, src, baseRev)
	if err != nil {
		return nil, err
	}
	target, err := e.loadModelsAt(ctx, src, targetRev)
	if err != nil {
		return nil, err
	}
	graph, err := dag.Build(target.Models)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	plan, err := e.planner.Generate(ctx, planner.Request{
		Base:         loader.BuildSnapshot(baseRev, base.Models),
		Target:       loader.BuildSnapshot(targetRev, target.Models),
		BaseModels:   modelsByName(base.Models),
		TargetModels: modelsByName(target.Models),
		Graph:        graph,
		Hints:        e.telemetryHints(ctx, id.TenantID, target.Models),
		Today:        now.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	plan.TenantID = id.TenantID
	plan.State = types.PlanStateDraft
	if governance.AutoApprovable(plan) {
		plan.State = types.PlanStateAutoApproved
	}
	plan.CreatedAt = now
	plan.UpdatedAt = now

	if err := e.store.SaveModelVersions(ctx, id.TenantID, targetRev, target.Models); err != nil {
		return nil, err
	}
	for _, m := range target.Models {
		if err := e.store.UpsertModel(ctx, id.TenantID, m); err != nil {
			return nil, err
		}
	}
	if err := e.store.CreatePlan(ctx, plan); err != nil {
		// Identical inputs produce an identical plan id; a rerun is not
		// an error, the existing plan is the answer.
		if errdefs.IsKind(err, errdefs.KindConflict) {
			return e.store.GetPlan(ctx, id.TenantID, plan.PlanID)
		}
		return nil, err
	}

	if err := e.record(ctx, id, "PLAN_GENERATED", "plan", plan.PlanID, map[string]string{
		"base":   baseRev,
		"target": targetRev,
		"steps":  strconv.Itoa(plan.Summary.TotalSteps),
		"state":  string(plan.State),
	}); err != nil {
		return nil, err
	}
	e.meterUsage(id.TenantID, types.UsagePlanRun, 1, map[string]string{"plan_id": plan.PlanID})
	e.publish(ctx, events.EventPlanCreated, id.TenantID, map[string]string{
		"plan_id": plan.PlanID,
		"steps":   strconv.Itoa(plan.Summary.TotalSteps),
	})
	return plan, nil
}

// telemetryHints folds each model's most recent telemetry row into the
// planner's cost features. Missing history is fine; the heuristic covers it.
func (e *Engine) telemetryHints(ctx context.Context, tenantID string, models []*types.ModelDefinition) map[string]planner.TelemetryHint {
	hints := make(map[string]planner.TelemetryHint, len(models))
	since := e.now().UTC().Add(-90 * 24 * time.Hour)
	for _, m := range models {
		rows, err := e.store.ListTelemetry(ctx, tenantID, m.Name, since, 1)
		if err != nil || len(rows) == 0 {
			continue
		}
		latest := rows[len(rows)-1]
		hints[m.Name] = planner.TelemetryHint{
			Partitions:       latest.Partitions,
			DataVolumeGB:     float64(latest.ShuffleBytes) / 1e9,
			LastCompletedEnd: latest.RangeEnd,
		}
	}
	return hints
}

func modelsByName(models []*types.ModelDefinition) map[string]*types.ModelDefinition {
	out := make(map[string]*types.ModelDefinition, len(models))
	for _, m := range models {
		out[m.Name] = m
	}
	return out
}

// GetPlan returns one plan with its steps.
func (e *Engine) GetPlan(ctx context.Context, planID string) (*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanRead)
	if err != nil {
		return nil, err
	}
	return e.store.GetPlan(ctx, id.TenantID, planID)
}

// ListPlans returns the tenant's plans, newest first.
func (e *Engine) ListPlans(ctx context.Context, filter storage.PlanFilter) ([]*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanRead)
	if err != nil {
		return nil, err
	}
	return e.store.ListPlans(ctx, id.TenantID, filter)
}

// ApprovePlan records the caller's approval. The actor is always the
// authenticated identity; a duplicate approval by the same identity is a
// conflict and the audit log gains exactly one entry per decision.
func (e *Engine) ApprovePlan(ctx context.Context, planID, comment string) (*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanApprove)
	if err != nil {
		return nil, err
	}
	plan, err := e.store.GetPlan(ctx, id.TenantID, planID)
	if err != nil {
		return nil, err
	}
	prior, err := e.store.ListApprovals(ctx, id.TenantID, planID)
	if err != nil {
		return nil, err
	}
	record, next, err := governance.Approve(plan, prior, id.Subject, comment, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.store.AddApproval(ctx, record); err != nil {
		return nil, err
	}
	if next != plan.State {
		if err := e.store.UpdatePlanState(ctx, id.TenantID, planID, next, e.now().UTC()); err != nil {
			return nil, err
		}
		plan.State = next
	}
	if err := e.record(ctx, id, "PLAN_APPROVED", "plan", planID, nil); err != nil {
		return nil, err
	}
	e.publish(ctx, events.EventPlanApproved, id.TenantID, map[string]string{"plan_id": planID})
	return plan, nil
}

// RejectPlan records a terminal rejection, preserving prior approvals.
func (e *Engine) RejectPlan(ctx context.Context, planID, reason string) (*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanApprove)
	if err != nil {
		return nil, err
	}
	plan, err := e.store.GetPlan(ctx, id.TenantID, planID)
	if err != nil {
		return nil, err
	}
	record, next, err := governance.Reject(plan, id.Subject, reason, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.store.AddApproval(ctx, record); err != nil {
		return nil, err
	}
	if err := e.store.UpdatePlanState(ctx, id.TenantID, planID, next, e.now().UTC()); err != nil {
		return nil, err
	}
	plan.State = next
	if err := e.record(ctx, id, "PLAN_REJECTED", "plan", planID, map[string]string{"reason": reason}); err != nil {
		return nil, err
	}
	e.publish(ctx, events.EventPlanRejected, id.TenantID, map[string]string{"plan_id": planID})
	return plan, nil
}

// CancelPlan moves a plan to CANCELLED from any non-applied state.
func (e *Engine) CancelPlan(ctx context.Context, planID string) (*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanApply)
	if err != nil {
		return nil, err
	}
	plan, err := e.store.GetPlan(ctx, id.TenantID, planID)
	if err != nil {
		return nil, err
	}
	if err := governance.Transition(plan.State, types.PlanStateCancelled); err != nil {
		return nil, err
	}
	if err := e.store.UpdatePlanState(ctx, id.TenantID, planID, types.PlanStateCancelled, e.now().UTC()); err != nil {
		return nil, err
	}
	plan.State = types.PlanStateCancelled
	if err := e.record(ctx, id, "PLAN_CANCELLED", "plan", planID, nil); err != nil {
		return nil, err
	}
	e.publish(ctx, events.EventPlanCancelled, id.TenantID, map[string]string{"plan_id": planID})
	return plan, nil
}
