package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shaharia-lab/mcpstdio/mcp"
)

// PromptTemplate is a prompt plus the messages it renders. Message text may
// reference arguments as {{name}}.
type PromptTemplate struct {
	mcp.Prompt
	Messages []mcp.PromptMessage
}

// PromptBook is an mcp.PromptProvider over a fixed set of templates.
type PromptBook struct {
	mu      sync.RWMutex
	prompts map[string]PromptTemplate
}

// NewPromptBook returns an empty prompt book.
func NewPromptBook() *PromptBook {
	return &PromptBook{prompts: make(map[string]PromptTemplate)}
}

// Add registers a template after validating it.
func (p *PromptBook) Add(t PromptTemplate) error {
	if err := validatePrompt(t); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.prompts[t.Name]; exists {
		return fmt.Errorf("prompt %q already registered", t.Name)
	}
	if t.Arguments == nil {
		t.Arguments = []mcp.PromptArgument{}
	}
	p.prompts[t.Name] = t
	return nil
}

// ListPrompts returns the prompts sorted by name.
func (p *PromptBook) ListPrompts(ctx context.Context) []mcp.Prompt {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prompts := make([]mcp.Prompt, 0, len(p.prompts))
	for _, t := range p.prompts {
		prompts = append(prompts, t.Prompt)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}

// GetPrompt renders the named prompt with arguments substituted.
func (p *PromptBook) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	p.mu.RLock()
	t, ok := p.prompts[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", mcp.ErrPromptNotFound, name)
	}

	for _, arg := range t.Arguments {
		if _, exists := arguments[arg.Name]; arg.Required && !exists {
			return nil, fmt.Errorf("missing required argument: %s", arg.Name)
		}
	}

	messages := make([]mcp.PromptMessage, len(t.Messages))
	for i, msg := range t.Messages {
		text := msg.Content.Text
		for _, arg := range t.Arguments {
			if value, exists := arguments[arg.Name]; exists {
				text = replaceArgument(text, arg.Name, value)
			}
		}
		messages[i] = mcp.PromptMessage{
			Role:    msg.Role,
			Content: mcp.PromptContent{Type: msg.Content.Type, Text: text},
		}
	}

	return &mcp.GetPromptResult{Description: t.Description, Messages: messages}, nil
}

func replaceArgument(text, argName, value string) string {
	return strings.ReplaceAll(text, "{{"+argName+"}}", value)
}

func validatePrompt(t PromptTemplate) error {
	if t.Name == "" {
		return errors.New("prompt name cannot be empty")
	}
	if len(t.Messages) == 0 {
		return fmt.Errorf("prompt %q must have at least one message", t.Name)
	}
	for _, msg := range t.Messages {
		if msg.Content.Type != "text" {
			return fmt.Errorf("prompt %q: only text type is supported for prompt content", t.Name)
		}
		if msg.Content.Text == "" {
			return fmt.Errorf("prompt %q: message content text cannot be empty", t.Name)
		}
	}
	for _, arg := range t.Arguments {
		if arg.Name == "" {
			return fmt.Errorf("prompt %q: argument name cannot be empty", t.Name)
		}
	}
	return nil
}

// MathTutorPromptName names the calculator system prompt.
const MathTutorPromptName = "math_tutor"

// MathTutor is the system prompt that makes the assistant act as a calculator.
var MathTutor = PromptTemplate{
	Prompt: mcp.Prompt{
		Name:        MathTutorPromptName,
		Description: "System prompt defining the assistant's behaviour as a calculator",
		Arguments:   []mcp.PromptArgument{},
	},
	Messages: []mcp.PromptMessage{
		mcp.NewUserPromptMessage("You are a calculator. Based on the user's request, propose the most " +
			"suitable calculation. Your output must always follow the JSON schema."),
	},
}

// NewDefaultPromptBook returns a prompt book holding math_tutor.
func NewDefaultPromptBook() (*PromptBook, error) {
	b := NewPromptBook()
	if err := b.Add(MathTutor); err != nil {
		return nil, err
	}
	return b, nil
}
