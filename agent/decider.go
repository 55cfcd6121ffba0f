package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shaharia-lab/mcpstdio/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Decision is what a decider concludes for one user message.
type Decision struct {
	Thought       string                 `json:"thought"`
	UseTool       bool                   `json:"use_tool"`
	ToolName      string                 `json:"tool_name,omitempty"`
	ToolArgs      map[string]interface{} `json:"tool_args,omitempty"`
	FinalResponse string                 `json:"final_response,omitempty"`
}

// Decider chooses between calling a tool and answering directly.
type Decider interface {
	Decide(ctx context.Context, systemPrompt, userInput string) (*Decision, error)
}

// Summarizer turns a tool result into the reply shown to the user.
type Summarizer interface {
	Summarize(ctx context.Context, userInput, toolResult string) (string, error)
}

// AddToolName is the tool RuleDecider calls.
const AddToolName = "add_numbers"

// DefaultRuleReply is RuleDecider's answer to anything but an addition.
const DefaultRuleReply = "Sorry, I can only help with calculations."

var (
	additionKeywords = []string{"たす", "add", "足す", "計算", "sum", "足"}
	integerPattern   = regexp.MustCompile(`\d+`)
)

// RuleDecider recognizes "add X and Y" style requests without a model.
type RuleDecider struct {
	// Reply is returned for requests that are not additions.
	Reply string
}

// NewRuleDecider returns a decider using DefaultRuleReply.
func NewRuleDecider() *RuleDecider {
	return &RuleDecider{Reply: DefaultRuleReply}
}

// Decide asks for add_numbers when the input names an addition keyword and
// holds at least two integers. The first two integers become a and b.
func (d *RuleDecider) Decide(_ context.Context, _ string, userInput string) (*Decision, error) {
	lower := strings.ToLower(userInput)
	hasKeyword := false
	for _, k := range additionKeywords {
		if strings.Contains(lower, k) {
			hasKeyword = true
			break
		}
	}

	numbers := integerPattern.FindAllString(userInput, 2)
	if hasKeyword && len(numbers) == 2 {
		a, errA := strconv.Atoi(numbers[0])
		b, errB := strconv.Atoi(numbers[1])
		if errA == nil && errB == nil {
			return &Decision{
				Thought:  "The request asks for an addition, so the calculator tool is needed.",
				UseTool:  true,
				ToolName: AddToolName,
				ToolArgs: map[string]interface{}{"a": a, "b": b},
			}, nil
		}
	}

	reply := d.Reply
	if reply == "" {
		reply = DefaultRuleReply
	}
	return &Decision{
		Thought:       "The request is not a calculation.",
		FinalResponse: reply,
	}, nil
}

// decisionSchema is shown to the model and used to validate its answer.
const decisionSchema = `{
  "type": "object",
  "properties": {
    "thought": {"type": "string", "description": "The reasoning behind the decision."},
    "use_tool": {"type": "boolean", "description": "Whether to use a tool."},
    "tool_name": {"type": ["string", "null"], "description": "Name of the tool to use."},
    "tool_args": {"type": ["object", "null"], "description": "Arguments for the tool."},
    "final_response": {"type": ["string", "null"], "description": "Final response to the user."}
  },
  "required": ["thought", "use_tool"]
}`

const summarySystemPrompt = "You are summarizing the result of a tool execution.\n" +
	"Provide a natural language response in 'final_response'. 'use_tool' should be false."

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ErrInvalidDecision is returned when model output does not match the decision schema.
var ErrInvalidDecision = errors.New("invalid decision")

// LLMDecider asks a model for a JSON decision.
type LLMDecider struct {
	provider LLMProvider
	options  *RequestOptions
	schema   *gojsonschema.Schema
	logger   observability.Logger
}

// NewLLMDecider wraps provider. Nil options use DefaultOptions.
func NewLLMDecider(provider LLMProvider, options *RequestOptions, logger observability.Logger) (*LLMDecider, error) {
	if provider == nil {
		return nil, errors.New("LLM provider cannot be nil")
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(decisionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}
	return &LLMDecider{
		provider: provider,
		options:  options.merged(),
		schema:   schema,
		logger:   logger,
	}, nil
}

func withSchemaInstruction(system string) string {
	return system + "\n\n" +
		"You MUST respond with a VALID JSON object matching the following schema:\n" +
		decisionSchema + "\n" +
		"Do NOT output anything else (like markdown code blocks or explanations) outside the JSON."
}

// Decide sends the system prompt, extended with the decision schema, and the
// user input to the model and parses its answer.
func (d *LLMDecider) Decide(ctx context.Context, systemPrompt, userInput string) (decision *Decision, err error) {
	ctx, span := observability.StartSpan(ctx, "agent.LLMDecider.Decide")
	defer func() { observability.EndSpan(span, err) }()

	text, err := d.provider.GenerateResponse(ctx, withSchemaInstruction(systemPrompt), userInput, d.options)
	if err != nil {
		return nil, err
	}

	decision, err = d.parse(text)
	if err != nil {
		d.logger.WithFields(map[string]interface{}{"response": text}).WithErr(err).Warn("Model answer rejected")
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("decision.use_tool", decision.UseTool),
		attribute.String("decision.tool_name", decision.ToolName),
	)
	return decision, nil
}

// Summarize asks the model to phrase a tool result as the final answer.
func (d *LLMDecider) Summarize(ctx context.Context, userInput, toolResult string) (string, error) {
	prompt := fmt.Sprintf("Original User Request: %s\nTool Execution Result: %s\n"+
		"Please provide the comprehensive final answer to the user.", userInput, toolResult)

	ctx, span := observability.StartSpan(ctx, "agent.LLMDecider.Summarize", trace.WithAttributes(
		attribute.Int("tool_result.length", len(toolResult))))
	text, err := d.provider.GenerateResponse(ctx, withSchemaInstruction(summarySystemPrompt), prompt, d.options)
	var decision *Decision
	if err == nil {
		decision, err = d.parse(text)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return "", err
	}
	return decision.FinalResponse, nil
}

func (d *LLMDecider) parse(text string) (*Decision, error) {
	cleaned := cleanJSON(text)

	result, err := d.schema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecision, strings.Join(problems, "; "))
	}

	var decision Decision
	if err := json.Unmarshal([]byte(cleaned), &decision); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if decision.UseTool && decision.ToolName == "" {
		return nil, fmt.Errorf("%w: use_tool is set without tool_name", ErrInvalidDecision)
	}
	return &decision, nil
}

// cleanJSON returns the body of the first fenced code block in text, or text.
func cleanJSON(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}
