package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// BedrockClient is the part of the Bedrock runtime client the provider uses.
type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// NewBedrockClient builds a runtime client for region signed with the given
// static keys. Without keys the client carries no credentials.
func NewBedrockClient(region, accessKeyID, secretAccessKey, sessionToken string) *bedrockruntime.Client {
	cfg := aws.Config{Region: region}
	if accessKeyID != "" && secretAccessKey != "" {
		creds := aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
			Source:          "mcpstdio config",
		}
		cfg.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil }))
	}
	return bedrockruntime.NewFromConfig(cfg)
}

// BedrockProvider implements LLMProvider on the Bedrock Converse API.
type BedrockProvider struct {
	client BedrockClient
	model  string
}

// NewBedrockProvider defaults to Claude 3.5 Sonnet on Bedrock when model is empty.
func NewBedrockProvider(client BedrockClient, model string) *BedrockProvider {
	if model == "" {
		model = defaultBedrockModel
	}
	return &BedrockProvider{client: client, model: model}
}

func (p *BedrockProvider) GenerateResponse(ctx context.Context, system, prompt string, options *RequestOptions) (string, error) {
	opts := options.merged()
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(opts.Temperature)),
			MaxTokens:   aws.Int32(int32(opts.MaxTokens)),
		},
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock: %w", err)
	}

	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response carries no message")
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if b, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(b.Value)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("bedrock: %w", ErrEmptyResponse)
	}
	return text.String(), nil
}
