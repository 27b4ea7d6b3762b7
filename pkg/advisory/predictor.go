package advisory

import (
	"math"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// CostFeatures are the regression inputs for one model run.
type CostFeatures struct {
	Partitions    int     `json:"partitions" validate:"min=0"`
	DataVolumeGB  float64 `json:"data_volume_gb" validate:"min=0"`
	Workers       int     `json:"workers" validate:"min=0"`
	SQLComplexity float64 `json:"sql_complexity" validate:"min=0"`
	JoinCount     int     `json:"join_count" validate:"min=0"`
	CTECount      int     `json:"cte_count" validate:"min=0"`
	UsesWindow    bool    `json:"uses_window"`
	TableCount    int     `json:"table_count" validate:"min=0"`
}

const featureCount = 8

// vector maps the features onto the regression basis. Data volume enters
// log-scaled so a 10x volume jump moves the prediction by a constant step.
func (f CostFeatures) vector() [featureCount]float64 {
	window := 0.0
	if f.UsesWindow {
		window = 1.0
	}
	return [featureCount]float64{
		float64(f.Partitions),
		math.Log10(1 + f.DataVolumeGB),
		float64(f.Workers),
		f.SQLComplexity,
		float64(f.JoinCount),
		float64(f.CTECount),
		window,
		float64(f.TableCount),
	}
}

// PredictorModel holds fitted regression coefficients. Serialisable so a
// trained model survives restarts.
type PredictorModel struct {
	Weights   [featureCount]float64 `json:"weights"`
	Intercept float64               `json:"intercept"`
	Samples   int                   `json:"samples"`
	TrainedAt time.Time             `json:"trained_at"`
}

// Confidence labels how much to trust a prediction; the band width follows
// the label.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Band half-widths per confidence label, as a fraction of the estimate.
const (
	bandHigh   = 0.10
	bandMedium = 0.25
	bandLow    = 0.50
)

// Sample counts gating the trained path and the high label.
const (
	minTrainingSamples   = 20
	highConfidenceSample = 100
)

// CostPrediction is an estimated runtime with its confidence band.
type CostPrediction struct {
	Seconds     float64    `json:"seconds"`
	LowSeconds  float64    `json:"low_seconds"`
	HighSeconds float64    `json:"high_seconds"`
	Confidence  Confidence `json:"confidence"`
	Heuristic   bool       `json:"heuristic"`
}

// PredictCost estimates runtime seconds for the given features. A trained
// model with enough samples takes the linear path; otherwise the
// deterministic heuristic answers. Never errors and never returns less
// than one second.
func PredictCost(model *PredictorModel, f CostFeatures) CostPrediction {
	var p CostPrediction
	if model != nil && model.Samples >= minTrainingSamples {
		x := f.vector()
		secs := model.Intercept
		for i, w := range model.Weights {
			secs += w * x[i]
		}
		p.Seconds = math.Max(1, secs)
		p.Confidence = ConfidenceMedium
		if model.Samples >= highConfidenceSample {
			p.Confidence = ConfidenceHigh
		}
	} else {
		p.Seconds = heuristicSeconds(f)
		p.Confidence = ConfidenceLow
		p.Heuristic = true
	}

	half := bandLow
	switch p.Confidence {
	case ConfidenceHigh:
		half = bandHigh
	case ConfidenceMedium:
		half = bandMedium
	}
	p.LowSeconds = math.Max(0, p.Seconds*(1-half))
	p.HighSeconds = p.Seconds * (1 + half)
	return p
}

// heuristicSeconds is the fallback estimate: a fixed base plus a per
// partition charge, scaled up with the log of the data volume and down
// with the square root of the worker count. Doubling workers buys a
// sqrt(2) speedup, not a 2x one.
func heuristicSeconds(f CostFeatures) float64 {
	base := 300.0 + 30.0*float64(f.Partitions)
	volumeScale := 1 + math.Log10(1+math.Max(0, f.DataVolumeGB))
	workers := math.Max(1, float64(f.Workers))
	return math.Max(1, base*volumeScale/math.Sqrt(workers))
}

// TrainingRow pairs observed features with the runtime they produced.
type TrainingRow struct {
	Features CostFeatures
	Seconds  float64
}

// FitPredictor fits the linear model by least squares over the normal
// equations, with a small ridge term so near-collinear features do not
// blow up the solve.
func FitPredictor(rows []TrainingRow) (*PredictorModel, error) {
	if len(rows) < minTrainingSamples {
		return nil, errdefs.Validationf(
			"predictor training needs at least %d rows, got %d", minTrainingSamples, len(rows))
	}

	// One extra dimension for the intercept.
	const dim = featureCount + 1
	var xtx [dim][dim]float64
	var xty [dim]float64
	for _, row := range rows {
		var x [dim]float64
		x[0] = 1
		v := row.Features.vector()
		copy(x[1:], v[:])
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				xtx[i][j] += x[i] * x[j]
			}
			xty[i] += x[i] * row.Seconds
		}
	}
	const ridge = 1e-6
	for i := 0; i < dim; i++ {
		xtx[i][i] += ridge
	}

	coef, err := solveLinear(xtx, xty)
	if err != nil {
		return nil, err
	}

	m := &PredictorModel{Intercept: coef[0], Samples: len(rows), TrainedAt: time.Now().UTC()}
	copy(m.Weights[:], coef[1:])
	return m, nil
}

// solveLinear runs Gaussian elimination with partial pivoting on the
// (featureCount+1)-dimensional system.
func solveLinear(a [featureCount + 1][featureCount + 1]float64, b [featureCount + 1]float64) ([featureCount + 1]float64, error) {
	const dim = featureCount + 1
	for col := 0; col < dim; col++ {
		pivot := col
		for r := col + 1; r < dim; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return b, errdefs.Validationf("predictor training matrix is singular")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < dim; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < dim; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	var x [featureCount + 1]float64
	for r := dim - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < dim; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}
