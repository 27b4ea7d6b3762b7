package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// volumeChecker feeds the model's output-row history through the anomaly
// scorer. The newest row is the observation, everything older is history.
type volumeChecker struct{}

func (c *volumeChecker) Type() CheckType { return TypeVolumeAnomaly }

func (c *volumeChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	start := time.Now()
	rows := rc.Telemetry[m.Name]
	if len(rows) < 4 {
		return []Result{skipResult(TypeVolumeAnomaly, m, "not enough telemetry for anomaly detection", start)}
	}

	history := make([]float64, 0, len(rows)-1)
	for _, row := range rows[:len(rows)-1] {
		history = append(history, float64(row.OutputRows))
	}
	latest := float64(rows[len(rows)-1].OutputRows)

	anomaly, err := advisory.DetectAnomaly(history, latest)
	if err != nil {
		return []Result{skipResult(TypeVolumeAnomaly, m, err.Error(), start)}
	}

	res := Result{
		CheckType: TypeVolumeAnomaly,
		Model:     m.Name,
		Detail: map[string]any{
			"latest":     latest,
			"z_score":    anomaly.ZScore,
			"percentile": anomaly.Percentile,
			"severity":   string(anomaly.Severity),
		},
		DurationMS: elapsedMS(start),
	}
	switch anomaly.Severity {
	case advisory.AnomalyNone:
		res.Status = StatusPass
		res.Severity = SeverityLow
		res.Message = "output volume within expected range"
	case advisory.AnomalyMinor:
		res.Status = StatusWarn
		res.Severity = SeverityMedium
		res.Message = fmt.Sprintf("minor volume deviation (z=%.2f)", anomaly.ZScore)
	case advisory.AnomalyMajor:
		res.Status = StatusFail
		res.Severity = SeverityMedium
		res.Message = fmt.Sprintf("major volume deviation (z=%.2f)", anomaly.ZScore)
	default:
		res.Status = StatusFail
		res.Severity = SeverityHigh
		res.Message = fmt.Sprintf("critical volume deviation (z=%.2f)", anomaly.ZScore)
	}
	return []Result{res}
}
