package engine

import (
	"context"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// Advisory pass-throughs. The engine owns authorization and tenant
// stamping; the advisory engine owns validation, caching, and the
// collaborator. Requests carrying a TenantID have it overwritten with
// the caller's, and the tenant's LLM opt-in gates enrichment.

func (e *Engine) advisoryFor(ctx context.Context) (*advisory.Engine, *auth.Identity, bool, error) {
	id, err := e.require(ctx, auth.PermAdvisoryRun)
	if err != nil {
		return nil, nil, false, err
	}
	if e.advisory == nil {
		return nil, nil, false, errdefs.New(errdefs.KindCollaboratorDown, "no advisory engine configured")
	}
	llm := false
	if tenant, err := e.store.GetTenant(ctx, id.TenantID); err == nil {
		llm = tenant.LLMEnabled
	}
	return e.advisory, id, llm, nil
}

// SemanticClassify categorizes the semantic impact of a SQL change.
func (e *Engine) SemanticClassify(ctx context.Context, req advisory.ClassifyRequest) (advisory.ClassifyResponse, error) {
	adv, id, llm, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.ClassifyResponse{}, err
	}
	req.TenantID = id.TenantID
	req.LLMEnabled = req.LLMEnabled && llm
	return adv.SemanticClassify(ctx, req)
}

// PredictCost estimates a model's runtime and spend from its features.
func (e *Engine) PredictCost(ctx context.Context, req advisory.PredictCostRequest) (advisory.PredictCostResponse, error) {
	adv, _, _, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.PredictCostResponse{}, err
	}
	return adv.PredictCost(ctx, req)
}

// ScoreRisk computes deployment risk for a set of models.
func (e *Engine) ScoreRisk(ctx context.Context, req advisory.RiskRequest) (advisory.RiskResponse, error) {
	adv, _, _, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.RiskResponse{}, err
	}
	return adv.ScoreRisk(ctx, req)
}

// ScoreFragility computes composite fragility over the dependency graph.
func (e *Engine) ScoreFragility(ctx context.Context, req advisory.FragilityRequest) (advisory.FragilityResponse, error) {
	adv, _, _, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.FragilityResponse{}, err
	}
	return adv.ScoreFragility(ctx, req)
}

// DetectAnomaly flags runtime outliers against a model's history.
func (e *Engine) DetectAnomaly(ctx context.Context, req advisory.AnomalyRequest) (advisory.AnomalyResponse, error) {
	adv, _, _, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.AnomalyResponse{}, err
	}
	return adv.DetectAnomaly(ctx, req)
}

// ForecastCost projects runtime cost over the requested horizon.
func (e *Engine) ForecastCost(ctx context.Context, req advisory.ForecastRequest) (advisory.ForecastResponse, error) {
	adv, _, _, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.ForecastResponse{}, err
	}
	return adv.ForecastCost(ctx, req)
}

// OptimizeSQL suggests rewrites for a statement.
func (e *Engine) OptimizeSQL(ctx context.Context, req advisory.OptimizeRequest) (advisory.OptimizeResponse, error) {
	adv, id, llm, err := e.advisoryFor(ctx)
	if err != nil {
		return advisory.OptimizeResponse{}, err
	}
	req.TenantID = id.TenantID
	req.LLMEnabled = req.LLMEnabled && llm
	return adv.OptimizeSQL(ctx, req)
}
