package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic creates a Provider backed by the Anthropic messages API.
// Extra request options are accepted so tests can redirect the base URL.
// The SDK's own retry loop is disabled; callers own retry policy.
func NewAnthropic(apiKey, model string, maxTokens int, opts ...option.RequestOption) Provider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &anthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *anthropicProvider) Name() string {
	return "anthropic"
}

func (a *anthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			return "", &apiError{provider: "anthropic", status: sdkErr.StatusCode, body: sdkErr.Error()}
		}
		return "", fmt.Errorf("calling Anthropic API: %w", err)
	}

	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from Anthropic API")
	}

	return resp.Content[0].Text, nil
}
