package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates a Provider backed by the OpenAI chat completions API.
// Extra request options are accepted so tests can redirect the base URL.
// The SDK's own retry loop is disabled; callers own retry policy.
func NewOpenAI(apiKey, model string, maxTokens int, opts ...option.RequestOption) Provider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &openAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (o *openAIProvider) Name() string {
	return "openai"
}

func (o *openAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.model),
		MaxTokens: openai.Int(int64(o.maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		var sdkErr *openai.Error
		if errors.As(err, &sdkErr) {
			return "", &apiError{provider: "openai", status: sdkErr.StatusCode, body: sdkErr.Message}
		}
		return "", fmt.Errorf("calling OpenAI API: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI API")
	}

	return resp.Choices[0].Message.Content, nil
}
