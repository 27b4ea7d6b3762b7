package llm

import (
	"context"
	"strconv"
	"time"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// BudgetGuard is the slice of governance consulted before any spend. The
// check admits a call while recorded spend is under budget; the crossing
// call itself is allowed through and metered.
type BudgetGuard interface {
	CheckAISpend(ctx context.Context, tenantID string) error
}

// UsageRecorder buffers AI_CALL usage events. *metering.Collector
// satisfies it.
type UsageRecorder interface {
	Record(event types.UsageEvent)
}

// Pricing converts token counts into USD.
type Pricing struct {
	InputUSDPerMillion  float64
	OutputUSDPerMillion float64
}

// Cost returns the USD cost of a call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputUSDPerMillion +
		float64(outputTokens)/1e6*p.OutputUSDPerMillion
}

// CollaboratorConfig tunes the guarded caller.
type CollaboratorConfig struct {
	// Timeout bounds each provider call.
	Timeout time.Duration
	Pricing Pricing
}

const defaultCallTimeout = 30 * time.Second

// Collaborator is the budget-guarded, rate-limited caller the advisory
// engine consults. Recorded spend is checked against the budget before
// the call; usage is recorded whatever the outcome.
type Collaborator struct {
	client  Client
	limiter *AdaptiveLimiter
	budget  BudgetGuard
	usage   UsageRecorder
	pricing Pricing
	timeout time.Duration
}

// NewCollaborator wires the guarded caller. Limiter, budget, and usage are
// each optional; a nil value disables that guard.
func NewCollaborator(client Client, limiter *AdaptiveLimiter, budget BudgetGuard, usage UsageRecorder, cfg CollaboratorConfig) *Collaborator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &Collaborator{
		client:  client,
		limiter: limiter,
		budget:  budget,
		usage:   usage,
		pricing: cfg.Pricing,
		timeout: cfg.Timeout,
	}
}

// Complete runs one guarded completion.
func (c *Collaborator) Complete(ctx context.Context, req advisory.CompletionRequest) (advisory.CompletionResult, error) {
	if c.budget != nil {
		if err := c.budget.CheckAISpend(ctx, req.TenantID); err != nil {
			return advisory.CompletionResult{}, err
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, len(req.Prompt)); err != nil {
			return advisory.CompletionResult{}, errdefs.CollaboratorTimeout(err, "llm throttle wait cancelled")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	completion, err := c.client.Complete(callCtx, req.Prompt, req.MaxTokens)
	latency := time.Since(start)
	if c.limiter != nil {
		c.limiter.Observe(err)
	}

	costUSD := c.pricing.Cost(completion.InputTokens, completion.OutputTokens)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if errdefs.IsKind(err, errdefs.KindRateLimited) {
			outcome = "rate_limited"
		}
	}
	c.recordUsage(req, completion, outcome, costUSD, latency)

	metrics.LLMRequestsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return advisory.CompletionResult{}, err
	}
	metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(completion.InputTokens))
	metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(completion.OutputTokens))
	metrics.LLMCostUSD.Add(costUSD)

	return advisory.CompletionResult{
		Text:         completion.Text,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		LatencyMS:    latency.Milliseconds(),
	}, nil
}

// recordUsage emits the AI_CALL event. Failed calls are recorded too, so
// billing sees every attempt that reached the provider.
func (c *Collaborator) recordUsage(req advisory.CompletionRequest, completion Completion, outcome string, costUSD float64, latency time.Duration) {
	if c.usage == nil {
		return
	}
	c.usage.Record(types.UsageEvent{
		TenantID:  req.TenantID,
		EventType: types.UsageAICall,
		Quantity:  1,
		Metadata: map[string]string{
			"prompt_id":      req.PromptID,
			"prompt_version": req.PromptVersion,
			"outcome":        outcome,
			"input_tokens":   strconv.Itoa(completion.InputTokens),
			"output_tokens":  strconv.Itoa(completion.OutputTokens),
			"cost_usd":       strconv.FormatFloat(costUSD, 'f', 6, 64),
			"latency_ms":     strconv.FormatInt(latency.Milliseconds(), 10),
		},
	})
	llmLog := log.WithComponent("llm")
	llmLog.Debug().
		Str("tenant_id", req.TenantID).
		Str("prompt_id", req.PromptID).
		Str("outcome", outcome).
		Int("input_tokens", completion.InputTokens).
		Int("output_tokens", completion.OutputTokens).
		Msg("llm call recorded")
}
