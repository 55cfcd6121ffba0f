package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClientProvider is the part of the OpenAI SDK the provider uses.
type OpenAIClientProvider interface {
	CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIClient implements OpenAIClientProvider with the official SDK.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client authenticated with apiKey.
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	opts = append(opts, option.WithAPIKey(apiKey))
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

// CreateCompletion sends one chat completion request.
func (c *OpenAIClient) CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// OpenAIProvider implements LLMProvider on OpenAI chat models.
type OpenAIProvider struct {
	client OpenAIClientProvider
	model  string
}

const defaultOpenAIModel = "gpt-4o-mini"

// NewOpenAIProvider defaults to GPT-4o mini when model is empty.
func NewOpenAIProvider(client OpenAIClientProvider, model string) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{client: client, model: model}
}

func (p *OpenAIProvider) GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error) {
	opts := options.merged()
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	completion, err := p.client.CreateCompletion(ctx, openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(model),
		MaxTokens:   openai.Int(opts.MaxTokens),
		Temperature: openai.Float(opts.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return completion.Choices[0].Message.Content, nil
}
