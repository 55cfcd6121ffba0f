package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaharia-lab/mcpstdio/chat_history"
	"github.com/shaharia-lab/mcpstdio/mcp"
	"github.com/shaharia-lab/mcpstdio/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FallbackSystemPrompt is used when the server has no usable system prompt.
const FallbackSystemPrompt = "You are a helpful assistant."

const defaultPromptName = "math_tutor"

const toolInstructions = "Tool Usage Instructions:\n" +
	"- If a tool is needed, set 'use_tool' to true and provide 'tool_name' and 'tool_args'.\n" +
	"- 'tool_args' must match the tool's input schema.\n" +
	"- If no tool is needed, set 'use_tool' to false and answer in 'final_response'."

// MCPClient is the part of mcp.Client the agent drives.
type MCPClient interface {
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error)
	CallTool(ctx context.Context, name string, arguments interface{}) (*mcp.CallToolResult, error)
}

// Agent is a chat loop that answers with the help of an MCP server's tools.
type Agent struct {
	client     MCPClient
	decider    Decider
	history    chat_history.ChatHistoryStorage
	logger     observability.Logger
	promptName string

	tools        []mcp.Tool
	systemPrompt string
	chatID       uuid.UUID
	started      bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithHistory records every message of the session in storage.
func WithHistory(storage chat_history.ChatHistoryStorage) Option {
	return func(a *Agent) { a.history = storage }
}

// WithPromptName selects the server prompt used as the base system prompt.
func WithPromptName(name string) Option {
	return func(a *Agent) { a.promptName = name }
}

// New creates an agent. Without WithHistory the transcript is kept in memory.
func New(client MCPClient, decider Decider, opts ...Option) *Agent {
	a := &Agent{
		client:     client,
		decider:    decider,
		logger:     observability.NewNullLogger(),
		promptName: defaultPromptName,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.history == nil {
		a.history = chat_history.NewInMemoryChatHistoryStorage()
	}
	return a
}

// Start performs the handshake, loads tools and the system prompt, and opens
// a chat session.
func (a *Agent) Start(ctx context.Context) error {
	info, err := a.client.Initialize(ctx)
	if err != nil {
		return err
	}
	if err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	tools, err := a.client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	a.tools = tools

	a.systemPrompt = FallbackSystemPrompt
	prompt, err := a.client.GetPrompt(ctx, a.promptName, nil)
	switch {
	case err != nil:
		a.logger.WithErr(err).WithFields(map[string]interface{}{"prompt": a.promptName}).
			Warn("System prompt unavailable, using fallback")
	case len(prompt.Messages) > 0 && prompt.Messages[0].Content.Text != "":
		a.systemPrompt = prompt.Messages[0].Content.Text
	}

	chat, err := a.history.CreateChat(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	a.chatID = chat.UUID
	a.started = true

	a.logger.WithFields(map[string]interface{}{
		"server": info.ServerInfo.Name,
		"tools":  len(a.tools),
		"chatID": a.chatID.String(),
	}).Info("Agent started")
	return nil
}

// ChatID returns the id of the session's transcript.
func (a *Agent) ChatID() uuid.UUID { return a.chatID }

// Tools returns the tools listed at Start.
func (a *Agent) Tools() []mcp.Tool { return a.tools }

// SystemInstruction is the base prompt followed by the tool list and usage rules.
func (a *Agent) SystemInstruction() string {
	var b strings.Builder
	b.WriteString(a.systemPrompt)
	b.WriteString("\n\nAvailable Tools:\n")
	toolsJSON, err := json.MarshalIndent(a.tools, "", "  ")
	if err != nil {
		toolsJSON = []byte("[]")
	}
	b.Write(toolsJSON)
	b.WriteString("\n\n")
	b.WriteString(toolInstructions)
	return b.String()
}

// Turn answers one user message.
func (a *Agent) Turn(ctx context.Context, input string) (reply string, err error) {
	if !a.started {
		return "", errors.New("agent not started")
	}

	turnID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "agent.Turn", trace.WithAttributes(
		attribute.String("turn.id", turnID)))
	defer func() { observability.EndSpan(span, err) }()
	logger := a.logger.WithFields(map[string]interface{}{"turnID": turnID})

	a.record(ctx, chat_history.RoleUser, input, nil)

	decision, err := a.decider.Decide(ctx, a.SystemInstruction(), input)
	if err != nil {
		return "", fmt.Errorf("decision failed: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"useTool":  decision.UseTool,
		"toolName": decision.ToolName,
	}).Debug("Decision made")

	if !decision.UseTool {
		reply = decision.FinalResponse
		if reply == "" {
			reply = decision.Thought
		}
		a.record(ctx, chat_history.RoleAssistant, reply, nil)
		return reply, nil
	}

	span.SetAttributes(attribute.String("tool.name", decision.ToolName))
	args := decision.ToolArgs
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := a.client.CallTool(ctx, decision.ToolName, args)
	if err != nil {
		logger.WithErr(err).Error("Tool call failed")
		reply = fmt.Sprintf("Error calling tool %s: %v", decision.ToolName, err)
		a.record(ctx, chat_history.RoleAssistant, reply, nil)
		return reply, nil
	}

	toolText := result.Text()
	a.record(ctx, chat_history.RoleTool, toolText, map[string]string{
		"tool":    decision.ToolName,
		"isError": fmt.Sprint(result.IsError),
	})

	if result.IsError {
		reply = fmt.Sprintf("Tool %s failed: %s", decision.ToolName, toolText)
	} else if summarizer, ok := a.decider.(Summarizer); ok {
		reply, err = summarizer.Summarize(ctx, input, toolText)
		if err != nil {
			logger.WithErr(err).Warn("Summary failed, returning raw tool result")
			reply = fmt.Sprintf("The result is %s.", toolText)
		}
	} else {
		reply = fmt.Sprintf("The result is %s.", toolText)
		if decision.FinalResponse != "" {
			reply = decision.FinalResponse + " " + reply
		}
	}

	a.record(ctx, chat_history.RoleAssistant, reply, nil)
	return reply, nil
}

func (a *Agent) record(ctx context.Context, role chat_history.Role, text string, metadata map[string]string) {
	err := a.history.AddMessage(ctx, a.chatID, chat_history.ChatHistoryMessage{
		Role:        role,
		Text:        text,
		Metadata:    metadata,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		a.logger.WithErr(err).WithFields(map[string]interface{}{"role": string(role)}).
			Warn("Failed to record message")
	}
}

// Run reads user messages line by line from in and writes replies to out
// until exit, quit, end of input or ctx cancellation.
func (a *Agent) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply, err := a.Turn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "[Error] %v\n", err)
			continue
		}
		fmt.Fprintf(out, "[AI] %s\n", reply)
	}
}
