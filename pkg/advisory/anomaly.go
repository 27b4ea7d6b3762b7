package advisory

import (
	"math"
	"sort"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// AnomalySeverity grades how far the latest observation sits from the
// history.
type AnomalySeverity string

const (
	AnomalyNone     AnomalySeverity = "none"
	AnomalyMinor    AnomalySeverity = "minor"
	AnomalyMajor    AnomalySeverity = "major"
	AnomalyCritical AnomalySeverity = "critical"
)

// Severity cut-offs on |Z|.
const (
	anomalyMinorZ    = 1.5
	anomalyMajorZ    = 2.5
	anomalyCriticalZ = 3.5
)

// maxZ caps the Z-score when the history is flat, where it would otherwise
// be unbounded. The cap keeps results serialisable.
const maxZ = 1e6

// AnomalyResult reports both detection methods plus the classification.
type AnomalyResult struct {
	Latest     float64         `json:"latest"`
	Mean       float64         `json:"mean"`
	StdDev     float64         `json:"std_dev"`
	ZScore     float64         `json:"z_score"`
	Q1         float64         `json:"q1"`
	Q3         float64         `json:"q3"`
	IQRLow     float64         `json:"iqr_low"`
	IQRHigh    float64         `json:"iqr_high"`
	OutsideIQR bool            `json:"outside_iqr"`
	Percentile float64         `json:"percentile"`
	Severity   AnomalySeverity `json:"severity"`
}

// minAnomalyHistory is the fewest points the statistics are meaningful on.
const minAnomalyHistory = 3

// DetectAnomaly compares the latest value against the history using a
// Z-score and Tukey fences. Pure and deterministic.
func DetectAnomaly(history []float64, latest float64) (AnomalyResult, error) {
	if len(history) < minAnomalyHistory {
		return AnomalyResult{}, errdefs.Validationf(
			"anomaly detection needs at least %d history points, got %d", minAnomalyHistory, len(history))
	}

	res := AnomalyResult{Latest: latest}
	res.Mean = mean(history)
	res.StdDev = sampleStdDev(history, res.Mean)

	switch {
	case res.StdDev > 0:
		res.ZScore = (latest - res.Mean) / res.StdDev
		if res.ZScore > maxZ {
			res.ZScore = maxZ
		} else if res.ZScore < -maxZ {
			res.ZScore = -maxZ
		}
	case latest != res.Mean:
		res.ZScore = math.Copysign(maxZ, latest-res.Mean)
	}

	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	res.Q1 = percentileOf(sorted, 0.25)
	res.Q3 = percentileOf(sorted, 0.75)
	iqr := res.Q3 - res.Q1
	res.IQRLow = res.Q1 - 1.5*iqr
	res.IQRHigh = res.Q3 + 1.5*iqr
	res.OutsideIQR = latest < res.IQRLow || latest > res.IQRHigh

	rank := 0
	for _, v := range sorted {
		if v <= latest {
			rank++
		}
	}
	res.Percentile = 100 * float64(rank) / float64(len(sorted))

	abs := math.Abs(res.ZScore)
	switch {
	case abs >= anomalyCriticalZ:
		res.Severity = AnomalyCritical
	case abs >= anomalyMajorZ:
		res.Severity = AnomalyMajor
	case abs >= anomalyMinorZ:
		res.Severity = AnomalyMinor
	default:
		res.Severity = AnomalyNone
	}
	return res, nil
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// sampleStdDev uses the n-1 denominator.
func sampleStdDev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

// percentileOf interpolates linearly between the two nearest ranks.
// Input must be sorted.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
