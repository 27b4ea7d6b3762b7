package engine

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// RunWithTelemetry pairs a run record with its measurements.
type RunWithTelemetry struct {
	Run       *types.RunRecord     `json:"run"`
	Telemetry []types.TelemetryRow `json:"telemetry,omitempty"`
}

// ListRuns returns every run created while applying one plan.
func (e *Engine) ListRuns(ctx context.Context, planID string) ([]*types.RunRecord, error) {
	id, err := e.require(ctx, auth.PermRunRead)
	if err != nil {
		return nil, err
	}
	return e.store.ListRunsByPlan(ctx, id.TenantID, planID)
}

// GetRunWithTelemetry returns one run and the telemetry rows attached to
// it by run id.
func (e *Engine) GetRunWithTelemetry(ctx context.Context, runID string) (*RunWithTelemetry, error) {
	id, err := e.require(ctx, auth.PermRunRead)
	if err != nil {
		return nil, err
	}
	run, err := e.store.GetRun(ctx, id.TenantID, runID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListTelemetry(ctx, id.TenantID, run.Model, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	matched := rows[:0:0]
	for _, r := range rows {
		if r.RunID == runID {
			matched = append(matched, r)
		}
	}
	return &RunWithTelemetry{Run: run, Telemetry: matched}, nil
}
