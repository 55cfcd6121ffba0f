package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shaharia-lab/mcpstdio/mcp"
	"github.com/shaharia-lab/mcpstdio/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ToolFunc runs a tool with arguments that already passed schema validation
// and returns the text shown to the caller.
type ToolFunc func(ctx context.Context, arguments json.RawMessage) (string, error)

type registeredTool struct {
	tool   mcp.Tool
	schema *gojsonschema.Schema
	run    ToolFunc
}

// Toolbox is an mcp.ToolProvider whose tools validate their arguments against
// a JSON schema before running.
type Toolbox struct {
	mu     sync.RWMutex
	tools  map[string]registeredTool
	logger observability.Logger
}

// NewToolbox returns an empty toolbox.
func NewToolbox(logger observability.Logger) *Toolbox {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Toolbox{
		tools:  make(map[string]registeredTool),
		logger: logger,
	}
}

// Register adds a tool. The input schema must compile.
func (b *Toolbox) Register(tool mcp.Tool, run ToolFunc) error {
	if tool.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if tool.Description == "" {
		return fmt.Errorf("tool %q: description cannot be empty", tool.Name)
	}
	if run == nil {
		return fmt.Errorf("tool %q: handler cannot be nil", tool.Name)
	}
	if len(tool.InputSchema) == 0 {
		tool.InputSchema = json.RawMessage(`{"type":"object"}`)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
	if err != nil {
		return fmt.Errorf("tool %q: invalid input schema: %w", tool.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	b.tools[tool.Name] = registeredTool{tool: tool, schema: schema, run: run}
	return nil
}

// ListTools returns the tools sorted by name.
func (b *Toolbox) ListTools(ctx context.Context) []mcp.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tools := make([]mcp.Tool, 0, len(b.tools))
	for _, t := range b.tools {
		tools = append(tools, t.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// CallTool validates arguments and runs the named tool. Every failure is
// reported as an error result.
func (b *Toolbox) CallTool(ctx context.Context, name string, arguments json.RawMessage) mcp.CallToolResult {
	ctx, span := observability.StartSpan(ctx, "provider.Toolbox.CallTool",
		trace.WithAttributes(attribute.String("tool.name", name)))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	b.mu.RLock()
	t, ok := b.tools[name]
	b.mu.RUnlock()
	if !ok {
		err = fmt.Errorf("unknown tool %s", name)
		return mcp.ErrorResult("Unknown tool " + name)
	}

	if len(arguments) == 0 || string(arguments) == "null" {
		arguments = json.RawMessage("{}")
	}

	validation, err := t.schema.Validate(gojsonschema.NewBytesLoader(arguments))
	if err != nil {
		b.logger.WithFields(map[string]interface{}{"tool": name}).WithErr(err).Error("Schema validation error")
		return mcp.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
	}
	if !validation.Valid() {
		messages := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			messages = append(messages, desc.String())
		}
		err = errors.New(strings.Join(messages, "; "))
		b.logger.WithFields(map[string]interface{}{
			"tool":   name,
			"errors": messages,
		}).Warn("Schema validation failed")
		return mcp.ErrorResult("Schema validation failed: " + err.Error())
	}

	text, err := t.run(ctx, arguments)
	if err != nil {
		return mcp.ErrorResult(err.Error())
	}
	span.AddEvent("tool executed")
	return mcp.TextResult(text)
}

// AddNumbersTool is the add_numbers tool definition.
var AddNumbersTool = mcp.Tool{
	Name:        "add_numbers",
	Description: "Add two numbers together",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`),
}

// AddNumbers sums the a and b arguments.
func AddNumbers(_ context.Context, arguments json.RawMessage) (string, error) {
	var args struct {
		A *float64 `json:"a"`
		B *float64 `json:"b"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.A == nil || args.B == nil {
		return "", errors.New("missing arguments 'a' or 'b'")
	}
	return strconv.FormatFloat(*args.A+*args.B, 'f', -1, 64), nil
}

// NewDefaultToolbox returns a toolbox holding add_numbers.
func NewDefaultToolbox(logger observability.Logger) (*Toolbox, error) {
	b := NewToolbox(logger)
	if err := b.Register(AddNumbersTool, AddNumbers); err != nil {
		return nil, err
	}
	return b, nil
}
