// Package anthropic wraps the official Anthropic SDK with the single-turn
// completion the site generator needs.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/resilience"
)

// systemCacheTTL keeps the system prompt warm across a whole search run.
const systemCacheTTL = "1h"

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Request is one single-turn completion.
type Request struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheSystem marks the system prompt as a prompt-cache breakpoint.
	CacheSystem bool
	Prompt      string
	Temperature *float64
}

// Completion is the model's answer.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Truncated reports whether the model ran out of output tokens.
func (c *Completion) Truncated() bool {
	return c != nil && c.StopReason == "max_tokens"
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the SDK. Extra request options (base
// URL, retries) are passed through.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{client: sdk.NewClient(all...)}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	msg, err := c.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(eris.Wrap(err, "anthropic: complete"), apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "anthropic: complete")
	}
	return toCompletion(msg), nil
}

func buildParams(req Request) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		block := sdk.TextBlockParam{Text: req.System}
		if req.CacheSystem {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL(systemCacheTTL)
			block.CacheControl = cc
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params
}

func toCompletion(msg *sdk.Message) *Completion {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}
}
