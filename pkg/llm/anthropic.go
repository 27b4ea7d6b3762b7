package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// Completion is one raw model reply with its token accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client is the transport surface the collaborator calls. AnthropicClient
// implements it; tests substitute fakes.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error)
}

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicConfig configures the adapter.
type AnthropicConfig struct {
	// Model is the Claude model identifier.
	Model string
	// MaxTokens caps completions when the request does not set its own.
	MaxTokens int
}

const defaultMaxTokens = 1024

// AnthropicClient implements Client on the Claude Messages API.
type AnthropicClient struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewAnthropic builds an adapter over an existing Messages client.
func NewAnthropic(msg MessagesClient, cfg AnthropicConfig) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &AnthropicClient{msg: msg, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

// NewAnthropicFromAPIKey constructs the adapter with the default SDK HTTP
// client.
func NewAnthropicFromAPIKey(apiKey string, cfg AnthropicConfig) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, cfg)
}

// Complete sends one single-turn prompt and returns the text reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return Completion{}, classifyAnthropicError(err)
	}
	if msg == nil {
		return Completion{}, errdefs.CollaboratorDown(nil, "llm returned an empty response")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			text.WriteString(block.Text)
		}
	}
	return Completion{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}, nil
}

// classifyAnthropicError maps SDK failures onto the shared taxonomy so
// callers branch on kinds instead of provider types.
func classifyAnthropicError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errdefs.CollaboratorTimeout(err, "llm call cancelled or timed out")
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errdefs.RateLimitedf(retryAfterSeconds(apiErr), "llm provider throttled: %v", err)
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return errdefs.CollaboratorDown(err, "llm provider unavailable")
		}
	}
	return errdefs.CollaboratorDown(err, "llm call failed")
}

// retryAfterSeconds reads the provider's Retry-After header when present.
func retryAfterSeconds(apiErr *sdk.Error) int {
	if apiErr.Response == nil {
		return 1
	}
	if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return secs
		}
	}
	return 1
}
