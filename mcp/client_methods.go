package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := c.SendRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// Initialize performs the handshake: initialize, then notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: DefaultProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      c.clientInfo,
	}

	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	c.logger.WithFields(map[string]interface{}{
		"server":          result.ServerInfo.Name,
		"serverVersion":   result.ServerInfo.Version,
		"protocolVersion": result.ProtocolVersion,
	}).Info("Initialize request successful")

	if err := c.SendNotification(ctx, NotificationInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return &result, nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// ListResources returns the server's resources.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var result ListResourcesResult
	if err := c.call(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource returns the contents behind uri. An unreadable resource yields
// no contents and no error.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	var result ReadResourceResult
	if err := c.call(ctx, MethodResourcesRead, ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// ListTools returns the server's tools.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := c.call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, err
	}
	c.logger.WithFields(map[string]interface{}{"count": len(result.Tools)}).Debug("Tools listed")
	return result.Tools, nil
}

// CallTool invokes a tool. Tool failures come back as a result with IsError set.
func (c *Client) CallTool(ctx context.Context, name string, arguments interface{}) (*CallToolResult, error) {
	args, err := marshalParams(arguments)
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts returns the server's prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var result ListPromptsResult
	if err := c.call(ctx, MethodPromptsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error) {
	var result GetPromptResult
	if err := c.call(ctx, MethodPromptsGet, GetPromptParams{Name: name, Arguments: arguments}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
