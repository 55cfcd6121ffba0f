package mcp

import "encoding/json"

// Method names understood by the server.
const (
	MethodInitialize        = "initialize"
	MethodPing              = "ping"
	MethodResourcesList     = "resources/list"
	MethodResourcesRead     = "resources/read"
	MethodToolsList         = "tools/list"
	MethodToolsCall         = "tools/call"
	MethodPromptsList       = "prompts/list"
	MethodPromptsGet        = "prompts/get"
	NotificationInitialized = "notifications/initialized"
)

const (
	DefaultProtocolVersion = "2025-11-25"
	DefaultServerName      = "mcpstdio-server"
	DefaultServerVersion   = "1.0.0"
	DefaultClientName      = "mcpstdio-client"
	DefaultClientVersion   = "1.0.0"

	contentTypeText = "text"
)

// Implementation names a client or server program.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CapabilityFlags is the per capability object advertised by initialize.
type CapabilityFlags struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// Capabilities lists the capability groups a server offers. Absent groups are omitted.
type Capabilities struct {
	Resources *CapabilityFlags `json:"resources,omitempty"`
	Tools     *CapabilityFlags `json:"tools,omitempty"`
	Prompts   *CapabilityFlags `json:"prompts,omitempty"`
}

type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      Implementation         `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// Resource is one entry of resources/list.
type Resource struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// ResourceContent is one entry of resources/read.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

type ReadResourceParams struct {
	URI string `json:"uri"`
}

type ReadResourceResult struct {
	Contents []ResourceContent `json:"contents"`
}

// Tool describes a callable tool and the JSON schema of its arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolContent is one content block of a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextResult wraps text in a successful CallToolResult.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []ToolContent{{Type: contentTypeText, Text: text}}}
}

// ErrorResult wraps msg in a CallToolResult flagged as an error.
func ErrorResult(msg string) CallToolResult {
	return CallToolResult{
		Content: []ToolContent{{Type: contentTypeText, Text: "Error: " + msg}},
		IsError: true,
	}
}

// Text joins the text content blocks of r.
func (r CallToolResult) Text() string {
	var out string
	for i, c := range r.Content {
		if i > 0 {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments"`
}

type PromptContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type PromptMessage struct {
	Role    string        `json:"role"`
	Content PromptContent `json:"content"`
}

// NewUserPromptMessage returns a user role message with text content.
func NewUserPromptMessage(text string) PromptMessage {
	return PromptMessage{Role: "user", Content: PromptContent{Type: contentTypeText, Text: text}}
}

// NewAssistantPromptMessage returns an assistant role message with text content.
func NewAssistantPromptMessage(text string) PromptMessage {
	return PromptMessage{Role: "assistant", Content: PromptContent{Type: contentTypeText, Text: text}}
}

type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}
