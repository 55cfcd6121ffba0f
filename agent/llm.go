package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// LLMProvider turns a system instruction and a user message into model text.
type LLMProvider interface {
	GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error)
}

// RequestOptions contains configuration for one LLM request.
type RequestOptions struct {
	Temperature float64
	MaxTokens   int64
	Model       string
	Timeout     time.Duration
}

// DefaultOptions returns the options used when a request carries none.
// Decisions are structured output, so temperature is zero.
func DefaultOptions() *RequestOptions {
	return &RequestOptions{
		Temperature: 0,
		MaxTokens:   1000,
		Timeout:     2 * time.Minute,
	}
}

// merged fills unset fields of o from the defaults.
func (o *RequestOptions) merged() *RequestOptions {
	def := DefaultOptions()
	if o == nil {
		return def
	}
	out := *o
	if out.MaxTokens <= 0 {
		out.MaxTokens = def.MaxTokens
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	return &out
}

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("model returned no text")

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
)

// ProviderConfig selects and authenticates an LLM backend.
type ProviderConfig struct {
	Name   string
	Model  string
	APIKey string

	// Bedrock only.
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewProvider builds the backend named by cfg.Name.
func NewProvider(ctx context.Context, cfg ProviderConfig) (LLMProvider, error) {
	switch strings.ToLower(cfg.Name) {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic: API key is required")
		}
		return NewAnthropicProvider(NewAnthropicClient(cfg.APIKey), cfg.Model), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai: API key is required")
		}
		return NewOpenAIProvider(NewOpenAIClient(cfg.APIKey), cfg.Model), nil
	case ProviderBedrock:
		if cfg.Region == "" {
			return nil, errors.New("bedrock: region is required")
		}
		client := NewBedrockClient(cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		return NewBedrockProvider(client, cfg.Model), nil
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, errors.New("gemini: API key is required")
		}
		service, err := NewGoogleGeminiService(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return NewGeminiProvider(service), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Name)
}

// RateLimitedProvider spaces out calls to the wrapped provider.
type RateLimitedProvider struct {
	provider LLMProvider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimitedProvider(provider LLMProvider, rps float64, burst int) *RateLimitedProvider {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// GenerateResponse waits for a token, then delegates.
func (p *RateLimitedProvider) GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return p.provider.GenerateResponse(ctx, system, prompt, options)
}
