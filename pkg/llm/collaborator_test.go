package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

type fakeClient struct {
	completion Completion
	err        error
	calls      int
	gotPrompt  string
	gotMax     int
}

func (f *fakeClient) Complete(_ context.Context, prompt string, maxTokens int) (Completion, error) {
	f.calls++
	f.gotPrompt = prompt
	f.gotMax = maxTokens
	return f.completion, f.err
}

type fakeBudget struct {
	err       error
	gotTenant string
}

func (f *fakeBudget) CheckAISpend(_ context.Context, tenantID string) error {
	f.gotTenant = tenantID
	return f.err
}

type fakeUsage struct {
	events []types.UsageEvent
}

func (f *fakeUsage) Record(event types.UsageEvent) {
	f.events = append(f.events, event)
}

func completionRequest() advisory.CompletionRequest {
	return advisory.CompletionRequest{
		TenantID:      "acme",
		PromptID:      "classify_change",
		PromptVersion: "v1",
		Prompt:        "classify this",
		MaxTokens:     64,
	}
}

func TestCollaboratorSuccessRecordsUsage(t *testing.T) {
	client := &fakeClient{completion: Completion{Text: "non_breaking", InputTokens: 100, OutputTokens: 4}}
	budget := &fakeBudget{}
	usage := &fakeUsage{}
	pricing := Pricing{InputUSDPerMillion: 3, OutputUSDPerMillion: 15}

	c := NewCollaborator(client, nil, budget, usage, CollaboratorConfig{Pricing: pricing, Timeout: time.Second})
	result, err := c.Complete(context.Background(), completionRequest())
	require.NoError(t, err)

	assert.Equal(t, "non_breaking", result.Text)
	assert.Equal(t, 100, result.InputTokens)
	assert.Equal(t, 4, result.OutputTokens)
	assert.Equal(t, "acme", budget.gotTenant)

	require.Len(t, usage.events, 1)
	event := usage.events[0]
	assert.Equal(t, types.UsageAICall, event.EventType)
	assert.Equal(t, "acme", event.TenantID)
	assert.Equal(t, "success", event.Metadata["outcome"])
	assert.Equal(t, "classify_change", event.Metadata["prompt_id"])
	assert.Equal(t, "v1", event.Metadata["prompt_version"])
	assert.Equal(t, "100", event.Metadata["input_tokens"])
}

func TestCollaboratorBudgetDeniedSkipsCall(t *testing.T) {
	client := &fakeClient{}
	budget := &fakeBudget{err: errdefs.BudgetExceededf("daily llm budget exhausted")}
	usage := &fakeUsage{}

	c := NewCollaborator(client, nil, budget, usage, CollaboratorConfig{})
	_, err := c.Complete(context.Background(), completionRequest())

	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindBudgetExceeded))
	assert.Zero(t, client.calls)
	assert.Empty(t, usage.events)
}

func TestCollaboratorFailureStillRecordsUsage(t *testing.T) {
	client := &fakeClient{err: errdefs.CollaboratorDown(assert.AnError, "provider down")}
	usage := &fakeUsage{}

	c := NewCollaborator(client, nil, nil, usage, CollaboratorConfig{})
	_, err := c.Complete(context.Background(), completionRequest())

	require.Error(t, err)
	require.Len(t, usage.events, 1)
	assert.Equal(t, "failure", usage.events[0].Metadata["outcome"])
}

func TestCollaboratorRateLimitShrinksBudget(t *testing.T) {
	client := &fakeClient{err: errdefs.RateLimitedf(2, "throttled")}
	limiter := NewAdaptiveLimiter(60000, 60000)
	usage := &fakeUsage{}

	c := NewCollaborator(client, limiter, nil, usage, CollaboratorConfig{})
	_, err := c.Complete(context.Background(), completionRequest())

	require.Error(t, err)
	assert.InDelta(t, 30000, limiter.CurrentTPM(), 1)
	require.Len(t, usage.events, 1)
	assert.Equal(t, "rate_limited", usage.events[0].Metadata["outcome"])
}

func TestPricingCost(t *testing.T) {
	p := Pricing{InputUSDPerMillion: 3, OutputUSDPerMillion: 15}
	assert.InDelta(t, 0.0, p.Cost(0, 0), 1e-12)
	assert.InDelta(t, 3.0, p.Cost(1_000_000, 0), 1e-9)
	assert.InDelta(t, 15.0, p.Cost(0, 1_000_000), 1e-9)
	assert.InDelta(t, 0.0033, p.Cost(100, 200), 1e-9)
}
