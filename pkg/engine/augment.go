package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// PlanAdvisory annotates a plan with advisory scores. It is a pure side
// channel: nothing here ever mutates the plan it describes.
type PlanAdvisory struct {
	PlanID    string                            `json:"plan_id"`
	Risk      []advisory.RiskScore              `json:"risk,omitempty"`
	Fragility []advisory.FragilityScore         `json:"fragility,omitempty"`
	Anomalies map[string]advisory.AnomalyResult `json:"anomalies,omitempty"`
	Forecasts map[string]advisory.Forecast      `json:"forecasts,omitempty"`
	Warnings  []string                          `json:"warnings,omitempty"`
}

// Step-change failure probabilities feeding the fragility scorer. Derived
// from the planner's change classification; models outside the plan keep
// the baseline.
const (
	fragilityBaselineProb = 0.05
	fragilityChangedProb  = 0.15
	fragilityBreakingProb = 0.35
)

// AugmentPlan computes advisory annotations for an existing plan. Scorer
// or collaborator failures degrade to partial results with warnings; the
// operation itself only fails when the plan cannot be read.
func (e *Engine) AugmentPlan(ctx context.Context, planID string) (*PlanAdvisory, error) {
	id, err := e.require(ctx, auth.PermAdvisoryRun)
	if err != nil {
		return nil, err
	}
	plan, err := e.store.GetPlan(ctx, id.TenantID, planID)
	if err != nil {
		return nil, err
	}
	out := &PlanAdvisory{PlanID: plan.PlanID}
	if e.advisory == nil {
		out.Warnings = append(out.Warnings, "advisory engine not configured")
		return out, nil
	}

	models, err := e.store.GetModelVersions(ctx, id.TenantID, plan.TargetRev)
	if err != nil || len(models) == 0 {
		models, err = e.store.ListModels(ctx, id.TenantID)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("models unavailable: %v", err))
			return out, nil
		}
	}
	graph, err := dag.Build(models)
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("dependency graph unavailable: %v", err))
		return out, nil
	}
	byName := modelsByName(models)

	e.augmentRisk(ctx, plan, graph, byName, out)
	e.augmentFragility(ctx, plan, graph, out)
	e.augmentHistory(ctx, id.TenantID, plan, out)
	return out, nil
}

func (e *Engine) augmentRisk(ctx context.Context, plan *types.Plan, graph *dag.Graph, byName map[string]*types.ModelDefinition, out *PlanAdvisory) {
	if len(plan.Steps) == 0 {
		return
	}
	inputs := make([]advisory.RiskInput, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		in := advisory.RiskInput{
			Model:           step.Model,
			DownstreamDepth: downstreamDepth(graph, step.Model),
		}
		if m := byName[step.Model]; m != nil {
			in.Tags = m.Tags
			in.DashboardDependencies = countTagged(m.Tags, "dashboard:")
		}
		inputs = append(inputs, in)
	}
	resp, err := e.advisory.ScoreRisk(ctx, advisory.RiskRequest{Inputs: inputs})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("risk scoring failed: %v", err))
		return
	}
	out.Risk = resp.Scores
}

func (e *Engine) augmentFragility(ctx context.Context, plan *types.Plan, graph *dag.Graph, out *PlanAdvisory) {
	changed := make(map[string]types.ChangeCategory, len(plan.Steps))
	for _, step := range plan.Steps {
		changed[step.Model] = step.Change
	}
	probs := make(map[string]float64)
	deps := make(map[string][]string)
	for _, node := range graph.Nodes() {
		p := fragilityBaselineProb
		switch changed[node] {
		case types.ChangeBreaking, types.ChangeMetricSemantic:
			p = fragilityBreakingProb
		case "":
		default:
			p = fragilityChangedProb
		}
		probs[node] = p
		deps[node] = graph.Upstream(node)
	}
	if len(probs) == 0 {
		return
	}
	resp, err := e.advisory.ScoreFragility(ctx, advisory.FragilityRequest{Probabilities: probs, Dependencies: deps})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("fragility scoring failed: %v", err))
		return
	}
	out.Fragility = resp.Scores
}

// augmentHistory runs anomaly detection and cost forecasting over each
// stepped model's runtime history. Models without three data points are
// skipped silently; history is optional by design.
func (e *Engine) augmentHistory(ctx context.Context, tenantID string, plan *types.Plan, out *PlanAdvisory) {
	since := e.now().UTC().Add(-90 * 24 * time.Hour)
	for _, step := range plan.Steps {
		rows, err := e.store.ListTelemetry(ctx, tenantID, step.Model, since, 60)
		if err != nil || len(rows) < 4 {
			continue
		}
		history := make([]float64, 0, len(rows)-1)
		for _, r := range rows[:len(rows)-1] {
			history = append(history, r.RuntimeSecs)
		}
		latest := rows[len(rows)-1].RuntimeSecs

		if resp, err := e.advisory.DetectAnomaly(ctx, advisory.AnomalyRequest{Model: step.Model, History: history, Latest: latest}); err == nil {
			if out.Anomalies == nil {
				out.Anomalies = make(map[string]advisory.AnomalyResult)
			}
			out.Anomalies[step.Model] = resp.Result
		}
		if resp, err := e.advisory.ForecastCost(ctx, advisory.ForecastRequest{Model: step.Model, History: append(history, latest)}); err == nil {
			if out.Forecasts == nil {
				out.Forecasts = make(map[string]advisory.Forecast)
			}
			out.Forecasts[step.Model] = resp.Forecast
		}
	}
}

// downstreamDepth is the longest chain strictly below name.
func downstreamDepth(g *dag.Graph, name string) int {
	memo := make(map[string]int)
	var walk func(n string) int
	walk = func(n string) int {
		if d, ok := memo[n]; ok {
			return d
		}
		best := 0
		for _, down := range g.Downstream(n) {
			if d := walk(down) + 1; d > best {
				best = d
			}
		}
		memo[n] = best
		return best
	}
	return walk(name)
}

func countTagged(tags []string, prefix string) int {
	n := 0
	for _, t := range tags {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
