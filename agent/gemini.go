package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiModelService wraps a configurable genai model.
type GeminiModelService interface {
	ConfigureModel(system *genai.Content, config *genai.GenerationConfig)
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	Close() error
}

// GoogleGeminiService implements GeminiModelService with the genai client.
type GoogleGeminiService struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGoogleGeminiService creates a client for modelName authenticated with apiKey.
func NewGoogleGeminiService(ctx context.Context, apiKey, modelName string) (*GoogleGeminiService, error) {
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleGeminiService{client: client, model: client.GenerativeModel(modelName)}, nil
}

func (g *GoogleGeminiService) ConfigureModel(system *genai.Content, config *genai.GenerationConfig) {
	g.model.SystemInstruction = system
	g.model.GenerationConfig = *config
}

func (g *GoogleGeminiService) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return g.model.GenerateContent(ctx, parts...)
}

func (g *GoogleGeminiService) Close() error {
	return g.client.Close()
}

// GeminiProvider implements LLMProvider on Gemini models. The model is
// reconfigured per request, so requests are serialized.
type GeminiProvider struct {
	mu      sync.Mutex
	service GeminiModelService
}

// NewGeminiProvider wraps service.
func NewGeminiProvider(service GeminiModelService) *GeminiProvider {
	return &GeminiProvider{service: service}
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.service.Close()
}

func (p *GeminiProvider) GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error) {
	opts := options.merged()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	config := &genai.GenerationConfig{}
	config.SetTemperature(float32(opts.Temperature))
	config.SetMaxOutputTokens(int32(opts.MaxTokens))

	var instruction *genai.Content
	if system != "" {
		instruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.service.ConfigureModel(instruction, config)
	resp, err := p.service.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("gemini: request blocked: %s", resp.PromptFeedback.BlockReason.String())
		}
		return "", errors.New("gemini: no candidates in response")
	}

	var text strings.Builder
	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return text.String(), nil
}
