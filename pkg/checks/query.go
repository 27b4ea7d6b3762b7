package checks

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
)

// queryRunner executes compiled check queries on the model's own cluster
// size. A check query selects violating rows, so zero rows produced means
// the check holds.
type queryRunner struct {
	client  warehouse.Client
	timeout time.Duration
}

// violations runs sql and returns how many violating rows it produced.
func (q *queryRunner) violations(ctx context.Context, m *types.ModelDefinition, sql string) (int64, error) {
	if q.client == nil {
		return 0, errdefs.CollaboratorDown(nil, "no warehouse collaborator configured")
	}
	res, err := q.client.Execute(ctx, sql, warehouse.TemplateFor(m.ClusterSize), q.timeout)
	if err != nil {
		return 0, err
	}
	return res.RowsWritten, nil
}

// available reports whether check queries can run at all.
func (q *queryRunner) available() bool {
	return q.client != nil
}

// resultForQuery reduces a violating-rows query outcome to one Result.
func resultForQuery(ct CheckType, m *types.ModelDefinition, name string, sev Severity, count int64, err error, start time.Time) Result {
	res := Result{
		CheckType:  ct,
		Model:      m.Name,
		Severity:   sev,
		DurationMS: elapsedMS(start),
	}
	switch {
	case err != nil:
		res.Status = StatusError
		res.Message = name + ": " + err.Error()
	case count > 0:
		res.Status = StatusFail
		res.Message = name + " found violating rows"
		res.Detail = map[string]any{"violations": count}
	default:
		res.Status = StatusPass
		res.Message = name + " passed"
	}
	return res
}
