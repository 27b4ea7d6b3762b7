package engine

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/checks"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// RunChecks executes the registered check families over the tenant's
// models, optionally narrowed to named models or check types.
func (e *Engine) RunChecks(ctx context.Context, filter checks.Filter) (*checks.Summary, error) {
	id, err := e.require(ctx, auth.PermCheckRun)
	if err != nil {
		return nil, err
	}
	if e.checks == nil {
		return nil, errdefs.New(errdefs.KindCollaboratorDown, "no check registry configured")
	}
	models, err := e.store.ListModels(ctx, id.TenantID)
	if err != nil {
		return nil, err
	}
	telemetry := make(map[string][]types.TelemetryRow, len(models))
	since := e.now().UTC().Add(-30 * 24 * time.Hour)
	for _, m := range models {
		rows, err := e.store.ListTelemetry(ctx, id.TenantID, m.Name, since, 100)
		if err != nil || len(rows) == 0 {
			continue
		}
		telemetry[m.Name] = rows
	}
	return e.checks.Run(ctx, &checks.RunContext{
		Models:       models,
		Telemetry:    telemetry,
		ContractMode: e.contractMode,
		Now:          e.now().UTC(),
	}, filter)
}

// CheckTypes lists the registered check families.
func (e *Engine) CheckTypes(ctx context.Context) ([]checks.CheckType, error) {
	if _, err := e.require(ctx, auth.PermCheckRead); err != nil {
		return nil, err
	}
	if e.checks == nil {
		return nil, nil
	}
	return e.checks.Types(), nil
}
