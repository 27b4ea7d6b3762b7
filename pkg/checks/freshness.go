package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// freshnessChecker fails when the newest telemetry row for a model is older
// than the configured window. Models tagged sla or critical fail at HIGH.
type freshnessChecker struct {
	maxAge time.Duration
}

func (c *freshnessChecker) Type() CheckType { return TypeDataFreshness }

func (c *freshnessChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	start := time.Now()
	rows := rc.Telemetry[m.Name]
	if len(rows) == 0 {
		return []Result{skipResult(TypeDataFreshness, m, "no telemetry recorded", start)}
	}

	newest := rows[0].RecordedAt
	for _, row := range rows[1:] {
		if row.RecordedAt.After(newest) {
			newest = row.RecordedAt
		}
	}
	age := rc.Now.Sub(newest)

	res := Result{
		CheckType:  TypeDataFreshness,
		Model:      m.Name,
		Severity:   SeverityLow,
		Detail:     map[string]any{"age_secs": int64(age.Seconds()), "max_age_secs": int64(c.maxAge.Seconds())},
		DurationMS: elapsedMS(start),
	}
	if age <= c.maxAge {
		res.Status = StatusPass
		res.Message = fmt.Sprintf("last run %s ago", age.Round(time.Minute))
		return []Result{res}
	}

	res.Status = StatusFail
	res.Severity = SeverityMedium
	if hasTag(m, "sla") || hasTag(m, "critical") {
		res.Severity = SeverityHigh
	}
	res.Message = fmt.Sprintf("stale: last run %s ago exceeds %s", age.Round(time.Minute), c.maxAge)
	return []Result{res}
}

func hasTag(m *types.ModelDefinition, tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
