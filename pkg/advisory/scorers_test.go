package advisory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func TestScoreRiskZeroInput(t *testing.T) {
	s := ScoreRisk(RiskInput{Model: "analytics.orders"}, RiskThresholds{})

	assert.Equal(t, "analytics.orders", s.Model)
	assert.Zero(t, s.Score)
	assert.False(t, s.ApprovalRequired)
	assert.False(t, s.BusinessCritical)
	assert.Empty(t, s.Factors)
}

func TestScoreRiskAllFactorsMaxed(t *testing.T) {
	s := ScoreRisk(RiskInput{
		Model:                 "analytics.revenue",
		DownstreamDepth:       10,
		DashboardDependencies: 10,
		HistoricalFailureRate: 1.0,
		Tags:                  []string{"sla", "critical"},
	}, RiskThresholds{})

	assert.InDelta(t, 10.0, s.Score, 1e-9)
	assert.True(t, s.ApprovalRequired)
	assert.True(t, s.BusinessCritical)
	assert.Len(t, s.Factors, 5)
}

func TestScoreRiskComposite(t *testing.T) {
	// depth 2 -> 1.5, one dashboard -> 0.5, failure 0.5 -> 1.0
	s := ScoreRisk(RiskInput{
		Model:                 "analytics.orders",
		DownstreamDepth:       2,
		DashboardDependencies: 1,
		HistoricalFailureRate: 0.5,
	}, RiskThresholds{})

	assert.InDelta(t, 3.0, s.Score, 1e-9)
	assert.False(t, s.ApprovalRequired)
}

func TestScoreRiskCustomThresholds(t *testing.T) {
	s := ScoreRisk(RiskInput{Model: "m", DownstreamDepth: 4},
		RiskThresholds{ApprovalAt: 2.5, CriticalAt: 9})

	assert.InDelta(t, 3.0, s.Score, 1e-9)
	assert.True(t, s.ApprovalRequired)
	assert.False(t, s.BusinessCritical)
}

func TestScoreRiskTagMatching(t *testing.T) {
	s := ScoreRisk(RiskInput{Model: "m", Tags: []string{"SLA:gold", "critical"}}, RiskThresholds{})

	assert.InDelta(t, 3.0, s.Score, 1e-9)
	assert.Equal(t, []string{"sla tagged", "critical tagged"}, s.Factors)
}

func buildGraph(t *testing.T, deps map[string][]string) *dag.Graph {
	t.Helper()
	models := make([]*types.ModelDefinition, 0, len(deps))
	for name, ups := range deps {
		models = append(models, &types.ModelDefinition{Name: name, DependsOn: ups})
	}
	g, err := dag.Build(models)
	require.NoError(t, err)
	return g
}

func TestScoreFragilityChain(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	scores := ScoreFragility(g, map[string]float64{"a": 0.5, "b": 0.4, "c": 0.2})
	require.Len(t, scores, 3)

	byModel := map[string]FragilityScore{}
	for _, s := range scores {
		byModel[s.Model] = s
	}

	a := byModel["a"]
	assert.InDelta(t, 0.5, a.Own, 1e-9)
	assert.Zero(t, a.Upstream)
	assert.InDelta(t, 0.5, a.Cascade, 1e-9) // 0.5 * 2 downstream / 2
	assert.InDelta(t, 3.5, a.Composite, 1e-9)
	assert.False(t, a.CriticalPath)

	b := byModel["b"]
	assert.InDelta(t, 0.4, b.Upstream, 1e-9) // 0.5 * 0.8
	assert.InDelta(t, 0.2, b.Cascade, 1e-9)
	assert.InDelta(t, 3.4, b.Composite, 1e-9)
	assert.True(t, b.CriticalPath)

	c := byModel["c"]
	assert.InDelta(t, 0.64, c.Upstream, 1e-9) // 0.4*0.8 + 0.5*0.64
	assert.Zero(t, c.Cascade)
	assert.InDelta(t, 2.72, c.Composite, 1e-9)
	assert.True(t, c.CriticalPath)
}

func TestScoreFragilityUpstreamClamped(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a": nil, "b": {"a"}, "c": {"b"}, "d": {"c"}, "e": {"d"},
	})
	probs := map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}
	scores := ScoreFragility(g, probs)

	var e FragilityScore
	for _, s := range scores {
		if s.Model == "e" {
			e = s
		}
	}
	// 0.8 + 0.64 + 0.512 + 0.4096 = 2.36, clamped to 1.
	assert.InDelta(t, 1.0, e.Upstream, 1e-9)
}

func TestScoreFragilityDiamondCountsAncestorsOnce(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	scores := ScoreFragility(g, map[string]float64{"a": 1.0})

	var d FragilityScore
	for _, s := range scores {
		if s.Model == "d" {
			d = s
		}
	}
	// b and c contribute zero; a sits at depth 2 and counts once.
	assert.InDelta(t, 0.64, d.Upstream, 1e-9)
	assert.False(t, d.CriticalPath) // b and c are at probability zero
}

func TestScoreFragilityMissingProbsDefaultZero(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": nil, "b": {"a"}})
	scores := ScoreFragility(g, nil)
	for _, s := range scores {
		assert.Zero(t, s.Own)
		assert.Zero(t, s.Composite)
	}
}

func TestDetectAnomalyFlatHistory(t *testing.T) {
	res, err := DetectAnomaly([]float64{10, 10, 10, 10}, 10)
	require.NoError(t, err)

	assert.Zero(t, res.ZScore)
	assert.Equal(t, AnomalyNone, res.Severity)
	assert.False(t, res.OutsideIQR)
	assert.InDelta(t, 100.0, res.Percentile, 1e-9)
}

func TestDetectAnomalyFlatHistorySpike(t *testing.T) {
	res, err := DetectAnomaly([]float64{10, 10, 10, 10}, 20)
	require.NoError(t, err)

	assert.InDelta(t, maxZ, res.ZScore, 1e-9)
	assert.Equal(t, AnomalyCritical, res.Severity)
	assert.True(t, res.OutsideIQR)
}

func TestDetectAnomalySpike(t *testing.T) {
	history := []float64{10, 12, 11, 13, 12, 11, 10, 12}
	res, err := DetectAnomaly(history, 30)
	require.NoError(t, err)

	assert.InDelta(t, 11.375, res.Mean, 1e-9)
	assert.InDelta(t, 17.56, res.ZScore, 0.01)
	assert.Equal(t, AnomalyCritical, res.Severity)
	assert.True(t, res.OutsideIQR)
	assert.InDelta(t, 100.0, res.Percentile, 1e-9)
}

func TestDetectAnomalySeverityLadder(t *testing.T) {
	// history [8,10,12]: mean 10, sample stddev 2.
	history := []float64{8, 10, 12}
	cases := []struct {
		latest float64
		want   AnomalySeverity
	}{
		{12, AnomalyNone},       // z = 1.0
		{13.5, AnomalyMinor},    // z = 1.75
		{15.5, AnomalyMajor},    // z = 2.75
		{17.5, AnomalyCritical}, // z = 3.75
	}
	for _, tc := range cases {
		res, err := DetectAnomaly(history, tc.latest)
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Severity, "latest=%v z=%v", tc.latest, res.ZScore)
	}
}

func TestDetectAnomalyPercentileMidRange(t *testing.T) {
	res, err := DetectAnomaly([]float64{1, 2, 3, 4}, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, res.Percentile, 1e-9)
}

func TestDetectAnomalyTooFewPoints(t *testing.T) {
	_, err := DetectAnomaly([]float64{1, 2}, 3)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestForecastFlatSeries(t *testing.T) {
	f, err := ForecastCost([]float64{100, 100, 100, 100, 100, 100, 100}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, f.Level, 1e-9)
	assert.Zero(t, f.Slope)
	assert.Equal(t, TrendStable, f.Trend)
	assert.InDelta(t, 700.0, f.Next7Days, 1e-9)
	assert.InDelta(t, 3000.0, f.Next30Days, 1e-9)
	assert.InDelta(t, 700.0, f.Low7, 1e-9)
	assert.InDelta(t, 700.0, f.High7, 1e-9)
}

func TestForecastIncreasingSeries(t *testing.T) {
	f, err := ForecastCost([]float64{100, 200, 300}, 0.5)
	require.NoError(t, err)

	// S: 100 -> 150 -> 225; slope (225-100)/2 = 62.5.
	assert.InDelta(t, 225.0, f.Level, 1e-9)
	assert.InDelta(t, 62.5, f.Slope, 1e-9)
	assert.Equal(t, TrendIncreasing, f.Trend)
	assert.InDelta(t, 3325.0, f.Next7Days, 1e-9)
	assert.InDelta(t, 35812.5, f.Next30Days, 1e-9)

	// Residuals 100 and 150: sigma = 25*sqrt(2); band = 1.96*sigma*sqrt(7).
	band := 1.96 * 25 * math.Sqrt2 * math.Sqrt(7)
	assert.InDelta(t, 3325.0-band, f.Low7, 1e-6)
	assert.InDelta(t, 3325.0+band, f.High7, 1e-6)
}

func TestForecastDecreasingClampsAtZero(t *testing.T) {
	f, err := ForecastCost([]float64{300, 200, 100}, 0.5)
	require.NoError(t, err)

	assert.Equal(t, TrendDecreasing, f.Trend)
	// Projected days: 112.5, 50, then clamped zeros.
	assert.InDelta(t, 162.5, f.Next7Days, 1e-9)
	assert.GreaterOrEqual(t, f.Low7, 0.0)
}

func TestForecastAlphaOutOfRangeUsesDefault(t *testing.T) {
	history := []float64{100, 110, 105, 120, 115}
	a, err := ForecastCost(history, 1.5)
	require.NoError(t, err)
	b, err := ForecastCost(history, 0)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestForecastTooFewPoints(t *testing.T) {
	_, err := ForecastCost([]float64{1, 2}, 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestPredictCostHeuristicBase(t *testing.T) {
	p := PredictCost(nil, CostFeatures{})

	assert.InDelta(t, 300.0, p.Seconds, 1e-9)
	assert.True(t, p.Heuristic)
	assert.Equal(t, ConfidenceLow, p.Confidence)
	assert.InDelta(t, 150.0, p.LowSeconds, 1e-9)
	assert.InDelta(t, 450.0, p.HighSeconds, 1e-9)
}

func TestPredictCostHeuristicScaling(t *testing.T) {
	// (300 + 30*10) * (1 + log10(100)) / sqrt(4) = 600 * 3 / 2 = 900.
	p := PredictCost(nil, CostFeatures{Partitions: 10, DataVolumeGB: 99, Workers: 4})
	assert.InDelta(t, 900.0, p.Seconds, 1e-9)
}

func TestPredictCostHeuristicZeroWorkers(t *testing.T) {
	with := PredictCost(nil, CostFeatures{Workers: 1})
	without := PredictCost(nil, CostFeatures{Workers: 0})
	assert.Equal(t, with.Seconds, without.Seconds)
}

func TestPredictCostTrainedModel(t *testing.T) {
	m := &PredictorModel{Intercept: 100, Samples: 150}
	m.Weights[0] = 1 // partitions coefficient

	p := PredictCost(m, CostFeatures{Partitions: 50})

	assert.InDelta(t, 150.0, p.Seconds, 1e-9)
	assert.False(t, p.Heuristic)
	assert.Equal(t, ConfidenceHigh, p.Confidence)
	assert.InDelta(t, 135.0, p.LowSeconds, 1e-9)
	assert.InDelta(t, 165.0, p.HighSeconds, 1e-9)
}

func TestPredictCostMediumConfidence(t *testing.T) {
	m := &PredictorModel{Intercept: 200, Samples: 40}
	p := PredictCost(m, CostFeatures{})
	assert.Equal(t, ConfidenceMedium, p.Confidence)
}

func TestPredictCostTrainedFloorsAtOneSecond(t *testing.T) {
	m := &PredictorModel{Intercept: -1000, Samples: 150}
	p := PredictCost(m, CostFeatures{})
	assert.InDelta(t, 1.0, p.Seconds, 1e-9)
}

func TestPredictCostUndertrainedFallsBack(t *testing.T) {
	m := &PredictorModel{Intercept: 5, Samples: 5}
	p := PredictCost(m, CostFeatures{})
	assert.True(t, p.Heuristic)
}

func TestFitPredictorRecoversLinearTarget(t *testing.T) {
	rows := make([]TrainingRow, 0, 24)
	target := func(f CostFeatures) float64 {
		v := f.vector()
		return 50 + 3*v[0] + 10*v[1] + 2*v[2] + 1*v[3] + 4*v[4] + 2*v[5] + 6*v[6] + 1.5*v[7]
	}
	for i := 0; i < 24; i++ {
		f := CostFeatures{
			Partitions:    i,
			DataVolumeGB:  float64(i * 7 % 13),
			Workers:       1 + i%5,
			SQLComplexity: float64(i % 9),
			JoinCount:     i % 4,
			CTECount:      i % 3,
			UsesWindow:    i%2 == 0,
			TableCount:    1 + i%6,
		}
		rows = append(rows, TrainingRow{Features: f, Seconds: target(f)})
	}

	m, err := FitPredictor(rows)
	require.NoError(t, err)
	assert.Equal(t, 24, m.Samples)

	probe := CostFeatures{
		Partitions: 30, DataVolumeGB: 8, Workers: 3, SQLComplexity: 4,
		JoinCount: 2, CTECount: 1, UsesWindow: true, TableCount: 4,
	}
	p := PredictCost(m, probe)
	assert.False(t, p.Heuristic)
	assert.InDelta(t, target(probe), p.Seconds, 0.5)
}

func TestFitPredictorTooFewRows(t *testing.T) {
	_, err := FitPredictor(make([]TrainingRow, 5))
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}
