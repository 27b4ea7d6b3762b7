package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/events"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/sqlparser"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
)

// ApplyRequest selects the plan to execute and, optionally, the named
// environment whose rewrite rules retarget each step's SQL.
type ApplyRequest struct {
	PlanID      string
	Environment string
	// StepTimeout bounds each statement; zero means ten minutes.
	StepTimeout time.Duration
}

const defaultStepTimeout = 10 * time.Minute

// ApplyPlan executes an approved plan group by group. Steps inside one
// parallel group run concurrently; a failed group stops everything after
// it. Execution itself is the warehouse collaborator's business — the
// engine hands it already-rewritten SQL per step and records the outcome.
func (e *Engine) ApplyPlan(ctx context.Context, req ApplyRequest) (*types.Plan, error) {
	id, err := e.require(ctx, auth.PermPlanApply)
	if err != nil {
		return nil, err
	}
	if e.warehouse == nil {
		return nil, errdefs.New(errdefs.KindCollaboratorDown, "no warehouse collaborator configured")
	}
	plan, err := e.store.GetPlan(ctx, id.TenantID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !governance.IsApproved(plan.State) {
		return nil, errdefs.Conflictf("plan %s is %s; only approved plans apply", plan.PlanID, plan.State)
	}
	if req.StepTimeout <= 0 {
		req.StepTimeout = defaultStepTimeout
	}

	var rules []types.RewriteRule
	if req.Environment != "" {
		env, err := e.store.GetEnvironment(ctx, id.TenantID, req.Environment)
		if err != nil {
			return nil, err
		}
		rules = env.Rules
	}

	versions, err := e.store.GetModelVersions(ctx, id.TenantID, plan.TargetRev)
	if err != nil {
		return nil, err
	}
	byName := modelsByName(versions)

	steps := append([]types.PlanStep(nil), plan.Steps...)
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].ParallelGroup != steps[j].ParallelGroup {
			return steps[i].ParallelGroup < steps[j].ParallelGroup
		}
		return steps[i].Model < steps[j].Model
	})

	if err := e.executeGroups(ctx, id, plan, steps, byName, rules, req.StepTimeout); err != nil {
		// Committed side effects (runs, telemetry, audit) stay; the plan
		// itself is parked so a fresh plan must be cut after the fix.
		if terr := governance.Transition(plan.State, types.PlanStateCancelled); terr == nil {
			_ = e.store.UpdatePlanState(ctx, id.TenantID, plan.PlanID, types.PlanStateCancelled, e.now().UTC())
			plan.State = types.PlanStateCancelled
		}
		e.publish(ctx, events.EventPlanFailed, id.TenantID, map[string]string{
			"plan_id": plan.PlanID,
			"error":   err.Error(),
		})
		return plan, err
	}

	if err := e.store.UpdatePlanState(ctx, id.TenantID, plan.PlanID, types.PlanStateApplied, e.now().UTC()); err != nil {
		return nil, err
	}
	plan.State = types.PlanStateApplied
	if err := e.record(ctx, id, "PLAN_APPLIED", "plan", plan.PlanID, map[string]string{
		"environment": req.Environment,
	}); err != nil {
		return nil, err
	}
	e.meterUsage(id.TenantID, types.UsagePlanApply, 1, map[string]string{"plan_id": plan.PlanID})
	e.publish(ctx, events.EventPlanApplied, id.TenantID, map[string]string{"plan_id": plan.PlanID})
	return plan, nil
}

// executeGroups walks parallel groups in depth order. Within a group each
// step runs in its own goroutine; the group joins before the next starts
// so upstream steps always finish before their dependents.
func (e *Engine) executeGroups(ctx context.Context, id *auth.Identity, plan *types.Plan, steps []types.PlanStep, byName map[string]*types.ModelDefinition, rules []types.RewriteRule, stepTimeout time.Duration) error {
	groups := make([][]types.PlanStep, 0)
	for _, step := range steps {
		if n := len(groups); n == 0 || groups[n-1][0].ParallelGroup != step.ParallelGroup {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], step)
	}

	for _, group := range groups {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for _, step := range group {
			wg.Add(1)
			go func(step types.PlanStep) {
				defer wg.Done()
				if err := e.executeStep(ctx, id, plan, step, byName[step.Model], rules, stepTimeout); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}(step)
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}
		if err := ctx.Err(); err != nil {
			return errdefs.CollaboratorTimeout(err, "apply cancelled")
		}
	}
	return nil
}

// executeStep runs one step with retries and records the run and its
// telemetry. The SQL handed to the warehouse is the model's clean SQL
// after environment rewriting; parse failures leave it unchanged by the
// rewriter's conservative contract.
func (e *Engine) executeStep(ctx context.Context, id *auth.Identity, plan *types.Plan, step types.PlanStep, def *types.ModelDefinition, rules []types.RewriteRule, stepTimeout time.Duration) error {
	if def == nil {
		return errdefs.NotFoundf("model %s not found at revision %s", step.Model, plan.TargetRev)
	}
	sql := def.CleanSQL
	if len(rules) > 0 {
		sql = sqlparser.RewriteTables(sql, rules, def.Dialect)
	}
	size := def.ClusterSize
	if size == "" {
		size = e.cluster
	}
	cluster := warehouse.TemplateFor(size)

	run := &types.RunRecord{
		RunID:     uuid.NewString(),
		TenantID:  id.TenantID,
		PlanID:    plan.PlanID,
		StepID:    step.StepID,
		Model:     step.Model,
		Status:    types.RunStatusPending,
		Cluster:   string(cluster.Size),
		StartedAt: e.now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return err
	}
	run.Status = types.RunStatusRunning
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	var (
		result  warehouse.ExecResult
		execErr error
	)
	backoff := time.Second
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			run.RetryCount = attempt
			select {
			case <-ctx.Done():
				execErr = errdefs.CollaboratorTimeout(ctx.Err(), "step %s cancelled", step.StepID)
			case <-time.After(backoff):
				backoff *= 2
			}
			if ctx.Err() != nil {
				break
			}
		}
		result, execErr = e.warehouse.Execute(ctx, sql, cluster, stepTimeout)
		if execErr == nil {
			break
		}
		e.logger.Warn().
			Str("plan_id", plan.PlanID).
			Str("step_id", step.StepID).
			Int("attempt", attempt+1).
			Err(execErr).
			Msg("step execution failed")
	}

	run.FinishedAt = e.now().UTC()
	if execErr != nil {
		run.Status = types.RunStatusFailed
		if ctx.Err() != nil {
			run.Status = types.RunStatusCancelled
		}
		run.Error = execErr.Error()
		_ = e.store.UpdateRun(ctx, run)
		e.publish(ctx, events.EventRunFailed, id.TenantID, map[string]string{
			"run_id": run.RunID,
			"model":  step.Model,
		})
		return execErr
	}

	run.Status = types.RunStatusCompleted
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	row := types.TelemetryRow{
		RunID:        run.RunID,
		TenantID:     id.TenantID,
		Model:        step.Model,
		RuntimeSecs:  result.Duration.Seconds(),
		ShuffleBytes: result.ShuffleBytes,
		InputRows:    result.RowsRead,
		OutputRows:   result.RowsWritten,
		Partitions:   result.Partitions,
		ClusterID:    result.ClusterID,
		RecordedAt:   e.now().UTC(),
	}
	if step.InputRange != nil {
		// the completed watermark future plans resume from
		row.RangeEnd = step.InputRange.End
	}
	if err := e.store.InsertTelemetry(ctx, []types.TelemetryRow{row}); err != nil {
		return err
	}
	e.publish(ctx, events.EventRunCompleted, id.TenantID, map[string]string{
		"run_id": run.RunID,
		"model":  step.Model,
	})
	return nil
}
