package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClientProvider is the part of the Anthropic SDK the provider uses.
type AnthropicClientProvider interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// AnthropicClient implements AnthropicClientProvider with the official SDK.
type AnthropicClient struct {
	messages *anthropic.MessageService
}

// NewAnthropicClient creates a client authenticated with apiKey.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{messages: client.Messages}
}

// CreateMessage sends one Messages API request.
func (c *AnthropicClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.messages.New(ctx, params)
}

// AnthropicProvider implements LLMProvider on Claude models.
type AnthropicProvider struct {
	client AnthropicClientProvider
	model  anthropic.Model
}

// NewAnthropicProvider defaults to Claude 3.5 Sonnet when model is empty.
func NewAnthropicProvider(client AnthropicClientProvider, model string) *AnthropicProvider {
	if model == "" {
		model = string(anthropic.ModelClaude_3_5_Sonnet_20240620)
	}
	return &AnthropicProvider{client: client, model: anthropic.Model(model)}
}

func (p *AnthropicProvider) GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error) {
	opts := options.merged()
	model := p.model
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(model),
		MaxTokens:   anthropic.F(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(system)})
	}

	message, err := p.client.CreateMessage(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if b, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return text.String(), nil
}
