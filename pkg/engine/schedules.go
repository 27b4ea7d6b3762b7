package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/events"
	"github.com/ironlayer/ironlayer/pkg/gitsource"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// minCadenceSecs floors how often a schedule may fire.
const minCadenceSecs = 60

// CreateSchedule registers a periodic plan generation between two refs.
func (e *Engine) CreateSchedule(ctx context.Context, schedule *types.Schedule) (*types.Schedule, error) {
	id, err := e.require(ctx, auth.PermScheduleManage)
	if err != nil {
		return nil, err
	}
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	schedule.ID = uuid.NewString()
	schedule.TenantID = id.TenantID
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	if err := e.store.CreateSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	if err := e.record(ctx, id, "SCHEDULE_CREATED", "schedule", schedule.ID, map[string]string{
		"name": schedule.Name,
	}); err != nil {
		return nil, err
	}
	return schedule, nil
}

// UpdateSchedule replaces a schedule's definition, keeping its identity
// and run history fields.
func (e *Engine) UpdateSchedule(ctx context.Context, schedule *types.Schedule) (*types.Schedule, error) {
	id, err := e.require(ctx, auth.PermScheduleManage)
	if err != nil {
		return nil, err
	}
	if schedule == nil || schedule.ID == "" {
		return nil, errdefs.Validationf("schedule id is required")
	}
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}
	current, err := e.store.GetSchedule(ctx, id.TenantID, schedule.ID)
	if err != nil {
		return nil, err
	}
	schedule.TenantID = id.TenantID
	schedule.CreatedAt = current.CreatedAt
	schedule.LastRunAt = current.LastRunAt
	schedule.LastPlanID = current.LastPlanID
	schedule.LastRunError = current.LastRunError
	schedule.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	if err := e.record(ctx, id, "SCHEDULE_UPDATED", "schedule", schedule.ID, nil); err != nil {
		return nil, err
	}
	return schedule, nil
}

// ListSchedules returns the tenant's schedules.
func (e *Engine) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	id, err := e.require(ctx, auth.PermScheduleManage)
	if err != nil {
		return nil, err
	}
	return e.store.ListSchedules(ctx, id.TenantID)
}

// DeleteSchedule removes a schedule.
func (e *Engine) DeleteSchedule(ctx context.Context, scheduleID string) error {
	id, err := e.require(ctx, auth.PermScheduleManage)
	if err != nil {
		return err
	}
	if err := e.store.DeleteSchedule(ctx, id.TenantID, scheduleID); err != nil {
		return err
	}
	return e.record(ctx, id, "SCHEDULE_DELETED", "schedule", scheduleID, nil)
}

func validateSchedule(s *types.Schedule) error {
	if s == nil {
		return errdefs.Validationf("schedule is required")
	}
	if s.Name == "" {
		return errdefs.Validationf("schedule name is required")
	}
	if s.RepoPath == "" {
		return errdefs.Validationf("schedule repo path is required")
	}
	if s.CadenceSecs < minCadenceSecs {
		return errdefs.Validationf("schedule cadence must be at least %d seconds", minCadenceSecs)
	}
	if err := gitsource.ValidateRef(s.BaseRef); err != nil {
		return err
	}
	return gitsource.ValidateRef(s.TargetRef)
}

// RunSchedule executes one due schedule on behalf of the scheduler loop.
// It runs under a service identity scoped to the schedule's tenant and
// records the outcome on the schedule row either way.
func (e *Engine) RunSchedule(ctx context.Context, schedule *types.Schedule) error {
	ctx = governance.WithIdentity(ctx, &auth.Identity{
		Subject:  "scheduler",
		TenantID: schedule.TenantID,
		Kind:     types.IdentityService,
		Role:     types.RoleOperator,
	})
	plan, err := e.GeneratePlan(ctx, GenerateRequest{
		RepoPath:  schedule.RepoPath,
		BaseRef:   schedule.BaseRef,
		TargetRef: schedule.TargetRef,
	})

	schedule.LastRunAt = e.now().UTC()
	schedule.UpdatedAt = schedule.LastRunAt
	if err != nil {
		schedule.LastRunError = err.Error()
		metrics.ScheduledRunsTotal.WithLabelValues("error").Inc()
	} else {
		schedule.LastRunError = ""
		schedule.LastPlanID = plan.PlanID
		metrics.ScheduledRunsTotal.WithLabelValues("ok").Inc()
		e.publish(ctx, events.EventScheduleTriggered, schedule.TenantID, map[string]string{
			"schedule_id": schedule.ID,
			"plan_id":     plan.PlanID,
		})
	}
	if uerr := e.store.UpdateSchedule(ctx, schedule); uerr != nil {
		e.logger.Warn().Str("schedule_id", schedule.ID).Err(uerr).Msg("schedule bookkeeping update failed")
	}
	return err
}
