package advisory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/cache"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// fakeCollaborator records prompts and returns a canned reply or error.
type fakeCollaborator struct {
	calls   int
	prompts []CompletionRequest
	reply   string
	err     error
}

func (f *fakeCollaborator) Complete(_ context.Context, req CompletionRequest) (CompletionResult, error) {
	f.calls++
	f.prompts = append(f.prompts, req)
	if f.err != nil {
		return CompletionResult{}, f.err
	}
	return CompletionResult{Text: f.reply, InputTokens: 100, OutputTokens: 10, LatencyMS: 5}, nil
}

func TestSemanticClassifyValidation(t *testing.T) {
	e := New(Config{})
	_, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		OldSQL: "SELECT 1", NewSQL: "SELECT 2",
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestSemanticClassifyRulesOnly(t *testing.T) {
	e := New(Config{})
	resp, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		TenantID: "t1",
		OldSQL:   "SELECT id FROM raw.t",
		NewSQL:   "SELECT id, amount FROM raw.t",
	})
	require.NoError(t, err)

	assert.Equal(t, types.ChangeNonBreaking, resp.Category)
	assert.Equal(t, "rules", resp.Source)
	assert.Empty(t, resp.Warnings)
}

func TestSemanticClassifySkipsLLMWhenConfident(t *testing.T) {
	fake := &fakeCollaborator{reply: "breaking"}
	e := New(Config{Collaborator: fake})

	resp, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		TenantID:   "t1",
		OldSQL:     "select id from raw.t",
		NewSQL:     "SELECT id FROM raw.t",
		LLMEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, types.ChangeCosmetic, resp.Category)
	assert.Zero(t, fake.calls)
}

func TestSemanticClassifyConsultsOnLowConfidence(t *testing.T) {
	fake := &fakeCollaborator{reply: "metric_semantic"}
	e := New(Config{Collaborator: fake})

	resp, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		TenantID:   "t1",
		OldSQL:     "SELECT id, amount AS v FROM raw.t WHERE email = 'bob@corp.com'",
		NewSQL:     "SELECT id, amount + fee AS v FROM raw.t WHERE email = 'bob@corp.com'",
		LLMEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, types.ChangeMetricSemantic, resp.Category)
	assert.Equal(t, "llm", resp.Source)
	assert.Equal(t, "v1", resp.PromptVersion)
	require.Equal(t, 1, fake.calls)

	sent := fake.prompts[0]
	assert.Equal(t, "t1", sent.TenantID)
	assert.Equal(t, PromptClassifyChange, sent.PromptID)
	assert.Contains(t, sent.Prompt, "<LITERAL>")
	assert.NotContains(t, sent.Prompt, "bob@corp.com")
}

func TestSemanticClassifyRespectsTenantFlag(t *testing.T) {
	fake := &fakeCollaborator{reply: "metric_semantic"}
	e := New(Config{Collaborator: fake})

	resp, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		TenantID: "t1",
		OldSQL:   "SELECT id, amount AS v FROM raw.t",
		NewSQL:   "SELECT id, amount + fee AS v FROM raw.t",
	})
	require.NoError(t, err)

	assert.Equal(t, "rules", resp.Source)
	assert.Zero(t, fake.calls)
}

func TestSemanticClassifyCollaboratorFailureIsNonFatal(t *testing.T) {
	fake := &fakeCollaborator{err: errors.New("budget exceeded")}
	e := New(Config{Collaborator: fake})

	resp, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		TenantID:   "t1",
		OldSQL:     "SELECT id, amount AS v FROM raw.t",
		NewSQL:     "SELECT id, amount + fee AS v FROM raw.t",
		LLMEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, types.ChangeBreaking, resp.Category)
	assert.Equal(t, "rules", resp.Source)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "llm consult failed")
}

func TestSemanticClassifyRejectsNonCategoryReply(t *testing.T) {
	fake := &fakeCollaborator{reply: "it depends on the downstream consumers"}
	e := New(Config{Collaborator: fake})

	resp, err := e.SemanticClassify(context.Background(), ClassifyRequest{
		TenantID:   "t1",
		OldSQL:     "SELECT id, amount AS v FROM raw.t",
		NewSQL:     "SELECT id, amount + fee AS v FROM raw.t",
		LLMEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "rules", resp.Source)
	assert.Equal(t, types.ChangeBreaking, resp.Category)
	assert.NotEmpty(t, resp.Warnings)
}

func TestSemanticClassifyCaches(t *testing.T) {
	fake := &fakeCollaborator{reply: "metric_semantic"}
	e := New(Config{Cache: cache.NewMemory(16), Collaborator: fake})

	req := ClassifyRequest{
		TenantID:   "t1",
		OldSQL:     "SELECT id, amount AS v FROM raw.t",
		NewSQL:     "SELECT id, amount + fee AS v FROM raw.t",
		LLMEnabled: true,
	}
	first, err := e.SemanticClassify(context.Background(), req)
	require.NoError(t, err)
	second, err := e.SemanticClassify(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, 1, fake.calls)
}

func TestPredictCostDerivesFeaturesFromSQL(t *testing.T) {
	e := New(Config{})
	resp, err := e.PredictCost(context.Background(), PredictCostRequest{
		Model: "analytics.user_events",
		SQL: `WITH b AS (SELECT user_id, COUNT(*) AS c FROM raw.events GROUP BY user_id)
SELECT u.id, b.c, ROW_NUMBER() OVER (ORDER BY b.c) AS rn
FROM raw.users AS u INNER JOIN b ON u.id = b.user_id`,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Features.JoinCount)
	assert.Equal(t, 1, resp.Features.CTECount)
	assert.True(t, resp.Features.UsesWindow)
	assert.Equal(t, 2, resp.Features.TableCount)
	assert.True(t, resp.Prediction.Heuristic)
}

func TestPredictCostUsesTrainedModel(t *testing.T) {
	m := &PredictorModel{Intercept: 50, Samples: 150}
	m.Weights[0] = 2
	e := New(Config{Predictor: m})

	resp, err := e.PredictCost(context.Background(), PredictCostRequest{Partitions: 25})
	require.NoError(t, err)

	assert.InDelta(t, 100.0, resp.Prediction.Seconds, 1e-9)
	assert.Equal(t, ConfidenceHigh, resp.Prediction.Confidence)
}

func TestPredictCostValidation(t *testing.T) {
	e := New(Config{})
	_, err := e.PredictCost(context.Background(), PredictCostRequest{Partitions: -1})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestPredictCostUnparseableSQLWarns(t *testing.T) {
	e := New(Config{})
	resp, err := e.PredictCost(context.Background(), PredictCostRequest{SQL: "DELETE FROM raw.t"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Warnings)
	assert.True(t, resp.Prediction.Heuristic)
	assert.Zero(t, resp.Features.JoinCount)
}

func TestScoreRiskEngine(t *testing.T) {
	e := New(Config{})
	resp, err := e.ScoreRisk(context.Background(), RiskRequest{Inputs: []RiskInput{
		{Model: "a", DownstreamDepth: 10, DashboardDependencies: 10, HistoricalFailureRate: 1, Tags: []string{"sla", "critical"}},
		{Model: "b"},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Scores, 2)

	assert.InDelta(t, 10.0, resp.Scores[0].Score, 1e-9)
	assert.Zero(t, resp.Scores[1].Score)
}

func TestScoreRiskEngineValidation(t *testing.T) {
	e := New(Config{})
	_, err := e.ScoreRisk(context.Background(), RiskRequest{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))

	_, err = e.ScoreRisk(context.Background(), RiskRequest{Inputs: []RiskInput{
		{Model: "a", HistoricalFailureRate: 2},
	}})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestScoreFragilityEngine(t *testing.T) {
	e := New(Config{})
	resp, err := e.ScoreFragility(context.Background(), FragilityRequest{
		Probabilities: map[string]float64{"a": 0.5, "b": 0.4},
		Dependencies:  map[string][]string{"b": {"a"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Scores, 2)

	assert.Equal(t, "a", resp.Scores[0].Model)
	assert.Equal(t, "b", resp.Scores[1].Model)
	assert.InDelta(t, 0.4, resp.Scores[1].Upstream, 1e-9)
}

func TestScoreFragilityEngineCycle(t *testing.T) {
	e := New(Config{})
	_, err := e.ScoreFragility(context.Background(), FragilityRequest{
		Probabilities: map[string]float64{"a": 0.1, "b": 0.1},
		Dependencies:  map[string][]string{"a": {"b"}, "b": {"a"}},
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindDagCycle))
}

func TestDetectAnomalyEngine(t *testing.T) {
	e := New(Config{})
	resp, err := e.DetectAnomaly(context.Background(), AnomalyRequest{
		Model:   "analytics.orders",
		History: []float64{8, 10, 12},
		Latest:  17.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "analytics.orders", resp.Model)
	assert.Equal(t, AnomalyCritical, resp.Result.Severity)
}

func TestForecastCostEngine(t *testing.T) {
	e := New(Config{})
	resp, err := e.ForecastCost(context.Background(), ForecastRequest{
		Model:   "analytics.orders",
		History: []float64{100, 200, 300},
		Alpha:   0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, TrendIncreasing, resp.Forecast.Trend)
	assert.InDelta(t, 3325.0, resp.Forecast.Next7Days, 1e-9)
}

func TestOptimizeSQLRules(t *testing.T) {
	e := New(Config{})
	resp, err := e.OptimizeSQL(context.Background(), OptimizeRequest{
		TenantID:     "t1",
		SQL:          "SELECT * FROM raw.a CROSS JOIN raw.b ORDER BY 1",
		TableSizesGB: map[string]float64{"raw.a": 500},
	})
	require.NoError(t, err)
	assert.Equal(t, "rules", resp.Source)

	rules := map[string]string{}
	for _, s := range resp.Suggestions {
		rules[s.Rule] = s.Message
	}
	assert.Contains(t, rules, "select_star")
	assert.Contains(t, rules, "cross_join")
	assert.Contains(t, rules, "global_sort")
	require.Contains(t, rules, "missing_filter")
	assert.Contains(t, rules["missing_filter"], "raw.a (500 GB)")
}

func TestOptimizeSQLExactDistinct(t *testing.T) {
	e := New(Config{})
	resp, err := e.OptimizeSQL(context.Background(), OptimizeRequest{
		TenantID: "t1",
		SQL:      "SELECT COUNT(DISTINCT user_id) AS users FROM raw.events WHERE ds = '2024-01-01'",
	})
	require.NoError(t, err)

	var found bool
	for _, s := range resp.Suggestions {
		if s.Rule == "exact_distinct" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOptimizeSQLMergesLLMSuggestions(t *testing.T) {
	fake := &fakeCollaborator{reply: strings.Join([]string{
		"- cluster raw.events by user_id",
		"not a suggestion line",
		"- pre-aggregate the events CTE",
		"- cache the dimension side",
		"- a fourth suggestion that exceeds the cap",
	}, "\n")}
	e := New(Config{Collaborator: fake})

	resp, err := e.OptimizeSQL(context.Background(), OptimizeRequest{
		TenantID:   "t1",
		SQL:        "SELECT id FROM raw.t WHERE ds = '2024-01-01'",
		LLMEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "rules+llm", resp.Source)
	assert.Equal(t, "v1", resp.PromptVersion)

	var llm []Suggestion
	for _, s := range resp.Suggestions {
		if s.Rule == "llm" {
			llm = append(llm, s)
		}
	}
	require.Len(t, llm, maxLLMSuggestions)
	assert.Equal(t, "cluster raw.events by user_id", llm[0].Message)
}

func TestOptimizeSQLCollaboratorFailureKeepsRules(t *testing.T) {
	fake := &fakeCollaborator{err: errors.New("rate limited")}
	e := New(Config{Collaborator: fake})

	resp, err := e.OptimizeSQL(context.Background(), OptimizeRequest{
		TenantID:   "t1",
		SQL:        "SELECT * FROM raw.a",
		LLMEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "rules", resp.Source)
	assert.NotEmpty(t, resp.Warnings)
}

func TestOptimizeSQLUnparseable(t *testing.T) {
	e := New(Config{})
	resp, err := e.OptimizeSQL(context.Background(), OptimizeRequest{
		TenantID: "t1",
		SQL:      "CREATE TABLE raw.t (id INT)",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestions)
}

func TestOptimizeSQLCaches(t *testing.T) {
	e := New(Config{Cache: cache.NewMemory(16)})
	req := OptimizeRequest{TenantID: "t1", SQL: "SELECT * FROM raw.a"}

	first, err := e.OptimizeSQL(context.Background(), req)
	require.NoError(t, err)
	second, err := e.OptimizeSQL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSetPredictorModelInvalidatesCostCache(t *testing.T) {
	mem := cache.NewMemory(16)
	e := New(Config{Cache: mem})
	ctx := context.Background()

	_, err := e.PredictCost(ctx, PredictCostRequest{Partitions: 3})
	require.NoError(t, err)
	require.Equal(t, 1, mem.Len())

	m := &PredictorModel{Intercept: 10, Samples: 150}
	e.SetPredictorModel(ctx, m)
	assert.Zero(t, mem.Len())

	resp, err := e.PredictCost(ctx, PredictCostRequest{Partitions: 3})
	require.NoError(t, err)
	assert.False(t, resp.Prediction.Heuristic)
}

func TestLookupPromptUnknown(t *testing.T) {
	_, err := LookupPrompt("nope")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

func TestPromptRenderLeavesUnknownPlaceholders(t *testing.T) {
	p := Prompt{Template: "a={{a}} b={{b}}"}
	out := p.Render(map[string]string{"a": "1"})
	assert.Equal(t, "a=1 b={{b}}", out)
}

func TestPromptRegistryVersioned(t *testing.T) {
	for _, id := range []string{PromptClassifyChange, PromptOptimizeSQL} {
		p, err := LookupPrompt(id)
		require.NoError(t, err)
		assert.NotEmpty(t, p.Version)
		assert.Positive(t, p.MaxTokens)
		assert.NotEmpty(t, p.Template)
	}
}
