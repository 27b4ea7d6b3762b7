package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ironlayer/ironlayer/pkg/cache"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/scrub"
	"github.com/ironlayer/ironlayer/pkg/sqlparser"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Collaborator is the narrow LLM surface the engine consults. The
// implementation owns budget enforcement, rate limiting, and usage
// recording; the engine owns scrubbing and prompt selection.
type Collaborator interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// CompletionRequest carries one scrubbed prompt to the collaborator.
type CompletionRequest struct {
	TenantID      string
	PromptID      string
	PromptVersion string
	Prompt        string
	MaxTokens     int
}

// CompletionResult is the collaborator's answer with its usage counts.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// Config wires the engine. Cache and Collaborator are both optional: a nil
// cache computes every answer, a nil collaborator disables enrichment.
type Config struct {
	Cache           cache.Cache
	Collaborator    Collaborator
	Predictor       *PredictorModel
	Risk            RiskThresholds
	ConfidenceFloor float64 // below this the engine may consult the collaborator
}

const defaultConfidenceFloor = 0.7

// Engine answers advisory calls. Scorers are pure; the engine adds
// validation, caching, and optional LLM enrichment on top. Advisory
// results annotate plans and never mutate them.
type Engine struct {
	cache        cache.Cache
	collaborator Collaborator
	predictor    *PredictorModel
	risk         RiskThresholds
	floor        float64
	validate     *validator.Validate
	logger       zerolog.Logger
}

// New builds an engine from cfg.
func New(cfg Config) *Engine {
	floor := cfg.ConfidenceFloor
	if floor <= 0 || floor > 1 {
		floor = defaultConfidenceFloor
	}
	return &Engine{
		cache:        cfg.Cache,
		collaborator: cfg.Collaborator,
		predictor:    cfg.Predictor,
		risk:         cfg.Risk.withDefaults(),
		floor:        floor,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       log.WithComponent("advisory"),
	}
}

// SetPredictorModel swaps in freshly trained coefficients. Cost entries
// are invalidated so stale predictions do not outlive the old model.
func (e *Engine) SetPredictorModel(ctx context.Context, m *PredictorModel) {
	e.predictor = m
	if e.cache != nil {
		if _, err := e.cache.InvalidateType(ctx, cache.RequestCost); err != nil {
			e.logger.Warn().Err(err).Msg("cost cache invalidation failed")
		}
	}
}

func (e *Engine) checkRequest(req any) error {
	if err := e.validate.Struct(req); err != nil {
		return errdefs.Wrap(errdefs.KindValidation, err, "invalid advisory request")
	}
	return nil
}

// ---- semantic_classify ----

// ClassifyRequest asks which change category separates two revisions of a
// model's SQL.
type ClassifyRequest struct {
	TenantID   string        `json:"tenant_id" validate:"required,max=128"`
	Model      string        `json:"model,omitempty" validate:"omitempty,max=512"`
	OldSQL     string        `json:"old_sql" validate:"required,max=262144"`
	NewSQL     string        `json:"new_sql" validate:"required,max=262144"`
	Dialect    types.Dialect `json:"dialect,omitempty" validate:"omitempty,oneof=databricks redshift"`
	TimeColumn string        `json:"time_column,omitempty" validate:"omitempty,max=128"`
	LLMEnabled bool          `json:"llm_enabled,omitempty"`
}

// ClassifyResponse is the category with its provenance.
type ClassifyResponse struct {
	Model         string               `json:"model,omitempty"`
	Category      types.ChangeCategory `json:"category"`
	Confidence    float64              `json:"confidence"`
	Reasons       []string             `json:"reasons,omitempty"`
	Source        string               `json:"source"` // rules or llm
	PromptVersion string               `json:"prompt_version,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
}

// SemanticClassify classifies a change, consulting the collaborator only
// when the deterministic confidence is below the floor and the tenant has
// LLM enabled. Collaborator failures degrade to the deterministic answer.
func (e *Engine) SemanticClassify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return ClassifyResponse{}, err
	}
	dialect := req.Dialect
	if dialect == "" {
		dialect = types.DialectDatabricks
	}

	prompt, err := LookupPrompt(PromptClassifyChange)
	if err != nil {
		return ClassifyResponse{}, err
	}

	var resp ClassifyResponse
	key := e.cacheKey(cache.RequestClassify, prompt.Version, req)
	if e.cacheGet(ctx, cache.RequestClassify, key, &resp) {
		return resp, nil
	}

	verdict := ClassifyChange(req.OldSQL, req.NewSQL, dialect, req.TimeColumn)
	resp = ClassifyResponse{
		Model:      req.Model,
		Category:   verdict.Category,
		Confidence: verdict.Confidence,
		Reasons:    verdict.Reasons,
		Source:     "rules",
	}

	if verdict.Confidence < e.floor && req.LLMEnabled && e.collaborator != nil {
		rendered := prompt.Render(map[string]string{
			"old_sql": scrub.SQL(req.OldSQL),
			"new_sql": scrub.SQL(req.NewSQL),
			"edits":   editSummary(req.OldSQL, req.NewSQL, dialect),
		})
		result, err := e.collaborator.Complete(ctx, CompletionRequest{
			TenantID:      req.TenantID,
			PromptID:      prompt.ID,
			PromptVersion: prompt.Version,
			Prompt:        rendered,
			MaxTokens:     prompt.MaxTokens,
		})
		switch {
		case err != nil:
			e.logger.Warn().Err(err).
				Str("prompt", prompt.ID).Str("version", prompt.Version).
				Msg("collaborator consult failed; keeping deterministic result")
			resp.Warnings = append(resp.Warnings, "llm consult failed: "+err.Error())
		default:
			if cat, ok := parseCategory(result.Text); ok {
				resp.Category = cat
				resp.Source = "llm"
				resp.PromptVersion = prompt.Version
				if resp.Confidence < e.floor {
					resp.Confidence = e.floor
				}
			} else {
				resp.Warnings = append(resp.Warnings, "llm reply was not a category; keeping deterministic result")
			}
		}
	}

	e.cacheSet(ctx, cache.RequestClassify, key, resp)
	return resp, nil
}

// ---- predict_cost ----

// PredictCostRequest estimates runtime for one model run. SQL is optional;
// when present the engine derives the structural features from it.
type PredictCostRequest struct {
	Model        string        `json:"model,omitempty" validate:"omitempty,max=512"`
	SQL          string        `json:"sql,omitempty" validate:"omitempty,max=262144"`
	Dialect      types.Dialect `json:"dialect,omitempty" validate:"omitempty,oneof=databricks redshift"`
	Partitions   int           `json:"partitions" validate:"min=0,max=1000000"`
	DataVolumeGB float64       `json:"data_volume_gb" validate:"min=0"`
	Workers      int           `json:"workers" validate:"min=0,max=10000"`
}

// PredictCostResponse carries the estimate and the features that fed it.
type PredictCostResponse struct {
	Model      string         `json:"model,omitempty"`
	Prediction CostPrediction `json:"prediction"`
	Features   CostFeatures   `json:"features"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// PredictCost estimates runtime seconds.
func (e *Engine) PredictCost(ctx context.Context, req PredictCostRequest) (PredictCostResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return PredictCostResponse{}, err
	}

	var resp PredictCostResponse
	key := e.cacheKey(cache.RequestCost, predictorVersion(e.predictor), req)
	if e.cacheGet(ctx, cache.RequestCost, key, &resp) {
		return resp, nil
	}

	features := CostFeatures{
		Partitions:   req.Partitions,
		DataVolumeGB: req.DataVolumeGB,
		Workers:      req.Workers,
	}
	if req.SQL != "" {
		dialect := req.Dialect
		if dialect == "" {
			dialect = types.DialectDatabricks
		}
		stats, err := sqlparser.AnalyzeComplexity(req.SQL, dialect)
		if err != nil {
			resp.Warnings = append(resp.Warnings, "sql analysis failed; structural features zeroed")
		} else {
			features.SQLComplexity = stats.Score()
			features.JoinCount = stats.Joins
			features.CTECount = stats.CTEs
			features.UsesWindow = stats.Windows > 0
			features.TableCount = stats.Tables
		}
	}

	resp.Model = req.Model
	resp.Features = features
	resp.Prediction = PredictCost(e.predictor, features)
	e.cacheSet(ctx, cache.RequestCost, key, resp)
	return resp, nil
}

// ---- score_risk ----

// RiskRequest scores one or more models in a single call.
type RiskRequest struct {
	Inputs []RiskInput `json:"inputs" validate:"required,min=1,max=1000,dive"`
}

// RiskResponse returns scores in input order.
type RiskResponse struct {
	Scores []RiskScore `json:"scores"`
}

// ScoreRisk computes composite change risk per model.
func (e *Engine) ScoreRisk(ctx context.Context, req RiskRequest) (RiskResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return RiskResponse{}, err
	}
	resp := RiskResponse{Scores: make([]RiskScore, 0, len(req.Inputs))}
	for _, in := range req.Inputs {
		resp.Scores = append(resp.Scores, ScoreRisk(in, e.risk))
	}
	return resp, nil
}

// ---- score_fragility ----

// FragilityRequest carries per-node failure probabilities plus the edges
// between them. Dependencies map a node to its upstream nodes; nodes
// absent from Probabilities default to zero.
type FragilityRequest struct {
	Probabilities map[string]float64  `json:"probabilities" validate:"required,min=1,dive,min=0,max=1"`
	Dependencies  map[string][]string `json:"dependencies,omitempty"`
}

// FragilityResponse returns scores in node-name order.
type FragilityResponse struct {
	Scores []FragilityScore `json:"scores"`
}

// ScoreFragility builds the dependency graph from the request and scores
// every node.
func (e *Engine) ScoreFragility(ctx context.Context, req FragilityRequest) (FragilityResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return FragilityResponse{}, err
	}

	names := map[string]bool{}
	for n := range req.Probabilities {
		names[n] = true
	}
	for n, ups := range req.Dependencies {
		names[n] = true
		for _, u := range ups {
			names[u] = true
		}
	}
	models := make([]*types.ModelDefinition, 0, len(names))
	for n := range names {
		models = append(models, &types.ModelDefinition{Name: n, DependsOn: req.Dependencies[n]})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	g, err := dag.Build(models)
	if err != nil {
		return FragilityResponse{}, err
	}
	return FragilityResponse{Scores: ScoreFragility(g, req.Probabilities)}, nil
}

// ---- detect_anomaly ----

// AnomalyRequest compares the latest observation against history.
type AnomalyRequest struct {
	Model   string    `json:"model,omitempty" validate:"omitempty,max=512"`
	History []float64 `json:"history" validate:"required,min=3,max=10000"`
	Latest  float64   `json:"latest"`
}

// AnomalyResponse wraps the detection result.
type AnomalyResponse struct {
	Model  string        `json:"model,omitempty"`
	Result AnomalyResult `json:"result"`
}

// DetectAnomaly classifies the latest value against the history.
func (e *Engine) DetectAnomaly(ctx context.Context, req AnomalyRequest) (AnomalyResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return AnomalyResponse{}, err
	}
	res, err := DetectAnomaly(req.History, req.Latest)
	if err != nil {
		return AnomalyResponse{}, err
	}
	return AnomalyResponse{Model: req.Model, Result: res}, nil
}

// ---- forecast_cost ----

// ForecastRequest smooths a daily series. Alpha zero means the default.
type ForecastRequest struct {
	Model   string    `json:"model,omitempty" validate:"omitempty,max=512"`
	History []float64 `json:"history" validate:"required,min=3,max=10000"`
	Alpha   float64   `json:"alpha,omitempty" validate:"min=0,max=1"`
}

// ForecastResponse wraps the projection.
type ForecastResponse struct {
	Model    string   `json:"model,omitempty"`
	Forecast Forecast `json:"forecast"`
}

// ForecastCost projects 7 and 30 day cost totals.
func (e *Engine) ForecastCost(ctx context.Context, req ForecastRequest) (ForecastResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return ForecastResponse{}, err
	}
	f, err := ForecastCost(req.History, req.Alpha)
	if err != nil {
		return ForecastResponse{}, err
	}
	return ForecastResponse{Model: req.Model, Forecast: f}, nil
}

// ---- optimize_sql ----

// OptimizeRequest asks for tuning suggestions on one statement.
type OptimizeRequest struct {
	TenantID     string             `json:"tenant_id" validate:"required,max=128"`
	SQL          string             `json:"sql" validate:"required,max=262144"`
	Dialect      types.Dialect      `json:"dialect,omitempty" validate:"omitempty,oneof=databricks redshift"`
	TableSizesGB map[string]float64 `json:"table_sizes_gb,omitempty" validate:"omitempty,dive,min=0"`
	LLMEnabled   bool               `json:"llm_enabled,omitempty"`
}

// OptimizeResponse lists suggestions, deterministic rules first.
type OptimizeResponse struct {
	Suggestions   []Suggestion `json:"suggestions"`
	Source        string       `json:"source"` // rules or rules+llm
	PromptVersion string       `json:"prompt_version,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// maxLLMSuggestions caps how many collaborator lines are merged in.
const maxLLMSuggestions = 3

// OptimizeSQL runs the deterministic rules and optionally merges
// collaborator suggestions. Collaborator failures degrade to rules-only.
func (e *Engine) OptimizeSQL(ctx context.Context, req OptimizeRequest) (OptimizeResponse, error) {
	if err := e.checkRequest(req); err != nil {
		return OptimizeResponse{}, err
	}
	dialect := req.Dialect
	if dialect == "" {
		dialect = types.DialectDatabricks
	}

	prompt, err := LookupPrompt(PromptOptimizeSQL)
	if err != nil {
		return OptimizeResponse{}, err
	}

	var resp OptimizeResponse
	key := e.cacheKey(cache.RequestOptimize, prompt.Version, req)
	if e.cacheGet(ctx, cache.RequestOptimize, key, &resp) {
		return resp, nil
	}

	resp = OptimizeResponse{
		Suggestions: suggestOptimizations(req.SQL, dialect, req.TableSizesGB),
		Source:      "rules",
	}

	if req.LLMEnabled && e.collaborator != nil {
		rendered := prompt.Render(map[string]string{
			"sql":         scrub.SQL(req.SQL),
			"table_sizes": formatTableSizes(req.TableSizesGB),
		})
		result, err := e.collaborator.Complete(ctx, CompletionRequest{
			TenantID:      req.TenantID,
			PromptID:      prompt.ID,
			PromptVersion: prompt.Version,
			Prompt:        rendered,
			MaxTokens:     prompt.MaxTokens,
		})
		if err != nil {
			e.logger.Warn().Err(err).
				Str("prompt", prompt.ID).Str("version", prompt.Version).
				Msg("collaborator consult failed; returning rule suggestions only")
			resp.Warnings = append(resp.Warnings, "llm consult failed: "+err.Error())
		} else {
			merged := 0
			for _, line := range strings.Split(result.Text, "\n") {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "- ") || merged >= maxLLMSuggestions {
					continue
				}
				resp.Suggestions = append(resp.Suggestions, Suggestion{
					Rule:    "llm",
					Message: strings.TrimPrefix(line, "- "),
				})
				merged++
			}
			if merged > 0 {
				resp.Source = "rules+llm"
				resp.PromptVersion = prompt.Version
			}
		}
	}

	e.cacheSet(ctx, cache.RequestOptimize, key, resp)
	return resp, nil
}

// ---- shared plumbing ----

// cacheKey digests the request; an empty key disables caching for the
// call. Key derivation only fails on unmarshalable payloads, which the
// request structs rule out.
func (e *Engine) cacheKey(rt cache.RequestType, version string, payload any) string {
	if e.cache == nil {
		return ""
	}
	key, err := cache.Key(rt, version, payload)
	if err != nil {
		e.logger.Warn().Err(err).Msg("cache key derivation failed")
		return ""
	}
	return key
}

func (e *Engine) cacheGet(ctx context.Context, rt cache.RequestType, key string, out any) bool {
	if e.cache == nil || key == "" {
		return false
	}
	raw, found, err := e.cache.Get(ctx, rt, key)
	if err != nil {
		e.logger.Warn().Err(err).Msg("cache get failed")
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		e.logger.Warn().Err(err).Msg("cache entry undecodable; recomputing")
		return false
	}
	return true
}

func (e *Engine) cacheSet(ctx context.Context, rt cache.RequestType, key string, value any) {
	if e.cache == nil || key == "" {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		e.logger.Warn().Err(err).Msg("cache value marshal failed")
		return
	}
	if err := e.cache.Set(ctx, rt, key, raw); err != nil {
		e.logger.Warn().Err(err).Msg("cache set failed")
	}
}

// predictorVersion keys cost cache entries by training generation so a
// retrain invalidates naturally even without an explicit flush.
func predictorVersion(m *PredictorModel) string {
	if m == nil {
		return "heuristic"
	}
	return "trained-" + m.TrainedAt.UTC().Format("20060102T150405Z")
}

func parseCategory(text string) (types.ChangeCategory, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".")
	for _, c := range []types.ChangeCategory{
		types.ChangeNonBreaking, types.ChangeBreaking, types.ChangeMetricSemantic,
		types.ChangeRenameOnly, types.ChangePartitionShift, types.ChangeCosmetic,
	} {
		if t == string(c) {
			return c, true
		}
	}
	return "", false
}

// editSummary renders the structural edit list for the classify prompt.
// Only edit kinds and column names cross the boundary, never SQL text.
func editSummary(oldSQL, newSQL string, dialect types.Dialect) string {
	d := sqlparser.Diff(oldSQL, newSQL, dialect)
	if d.IsIdentical || d.IsCosmeticOnly {
		return "none"
	}
	parts := make([]string, 0, len(d.Edits))
	for _, e := range d.Edits {
		if e.Detail != "" {
			parts = append(parts, e.Kind+"("+e.Detail+")")
		} else {
			parts = append(parts, e.Kind)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func formatTableSizes(sizes map[string]float64) string {
	if len(sizes) == 0 {
		return "unknown"
	}
	names := make([]string, 0, len(sizes))
	for n := range sizes {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%.1f", n, sizes[n]))
	}
	return strings.Join(parts, ", ")
}
