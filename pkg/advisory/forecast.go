package advisory

import (
	"math"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// Trend labels the direction of a cost series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// defaultAlpha is the smoothing factor used when the caller passes zero.
const defaultAlpha = 0.3

// trendSlopeFloor is the relative per-day slope below which the series
// counts as stable.
const trendSlopeFloor = 0.05

// Forecast projects a daily cost series forward.
type Forecast struct {
	Level      float64 `json:"level"` // last smoothed value, i.e. tomorrow's expected daily cost
	Slope      float64 `json:"slope"` // per-day drift of the smoothed series
	Next7Days  float64 `json:"next_7_days"`
	Next30Days float64 `json:"next_30_days"`
	Trend      Trend   `json:"trend"`
	Low7       float64 `json:"low_7"`
	High7      float64 `json:"high_7"`
	Low30      float64 `json:"low_30"`
	High30     float64 `json:"high_30"`
}

// minForecastHistory matches the anomaly detector's floor.
const minForecastHistory = 3

// ForecastCost smooths the history exponentially and projects totals for
// the next 7 and 30 days. history holds one value per day, oldest first.
// alpha outside (0,1) falls back to the default. Pure and deterministic.
func ForecastCost(history []float64, alpha float64) (Forecast, error) {
	if len(history) < minForecastHistory {
		return Forecast{}, errdefs.Validationf(
			"forecast needs at least %d history points, got %d", minForecastHistory, len(history))
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = defaultAlpha
	}

	// S_t = alpha*Y_t + (1-alpha)*S_{t-1}, seeded with the first point.
	// Residuals against the prior level feed the confidence band.
	level := history[0]
	residuals := make([]float64, 0, len(history)-1)
	for _, y := range history[1:] {
		residuals = append(residuals, y-level)
		level = alpha*y + (1-alpha)*level
	}

	f := Forecast{Level: level}
	f.Slope = (level - history[0]) / float64(len(history)-1)

	avg := mean(history)
	relative := 0.0
	if avg != 0 {
		relative = f.Slope / math.Abs(avg)
	}
	switch {
	case relative > trendSlopeFloor:
		f.Trend = TrendIncreasing
	case relative < -trendSlopeFloor:
		f.Trend = TrendDecreasing
	default:
		f.Trend = TrendStable
	}

	f.Next7Days = projectTotal(level, f.Slope, 7)
	f.Next30Days = projectTotal(level, f.Slope, 30)

	sigma := sampleStdDev(residuals, mean(residuals))
	band7 := 1.96 * sigma * math.Sqrt(7)
	band30 := 1.96 * sigma * math.Sqrt(30)
	f.Low7 = math.Max(0, f.Next7Days-band7)
	f.High7 = f.Next7Days + band7
	f.Low30 = math.Max(0, f.Next30Days-band30)
	f.High30 = f.Next30Days + band30
	return f, nil
}

// projectTotal sums the projected daily values over the horizon. Daily
// costs never go negative, so each projected day clamps at zero.
func projectTotal(level, slope float64, days int) float64 {
	total := 0.0
	for i := 1; i <= days; i++ {
		total += math.Max(0, level+slope*float64(i))
	}
	return total
}
