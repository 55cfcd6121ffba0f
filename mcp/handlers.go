package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ResourceProvider backs resources/list and resources/read.
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) ([]ResourceContent, error)
}

// ToolProvider backs tools/list and tools/call. Tool failures are reported in
// the returned result, never as an error.
type ToolProvider interface {
	ListTools(ctx context.Context) []Tool
	CallTool(ctx context.Context, name string, arguments json.RawMessage) CallToolResult
}

// PromptProvider backs prompts/list and prompts/get. GetPrompt returns an error
// wrapping ErrPromptNotFound for unknown names.
type PromptProvider interface {
	ListPrompts(ctx context.Context) []Prompt
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error)
}

func (s *Server) registerHandlers() error {
	builtin := []namedHandler{
		{MethodInitialize, s.handleInitialize},
		{MethodPing, s.handlePing},
		{NotificationInitialized, s.handleInitialized},
	}
	if s.resources != nil {
		builtin = append(builtin,
			namedHandler{MethodResourcesList, s.handleListResources},
			namedHandler{MethodResourcesRead, s.handleReadResource},
		)
	}
	if s.tools != nil {
		builtin = append(builtin,
			namedHandler{MethodToolsList, s.handleListTools},
			namedHandler{MethodToolsCall, s.handleCallTool},
		)
	}
	if s.prompts != nil {
		builtin = append(builtin,
			namedHandler{MethodPromptsList, s.handleListPrompts},
			namedHandler{MethodPromptsGet, s.handleGetPrompt},
		)
	}

	for _, h := range append(builtin, s.handlers...) {
		if err := s.registry.Register(h.method, h.handler); err != nil {
			return fmt.Errorf("failed to register handlers: %w", err)
		}
	}
	return nil
}

func (s *Server) capabilities() Capabilities {
	var c Capabilities
	if s.resources != nil {
		c.Resources = &CapabilityFlags{}
	}
	if s.tools != nil {
		c.Tools = &CapabilityFlags{}
	}
	if s.prompts != nil {
		c.Prompts = &CapabilityFlags{}
	}
	return c
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if len(params) > 0 {
		var p InitializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.WithErr(err).Warn("Ignoring malformed initialize params")
		} else {
			s.logger.WithFields(map[string]interface{}{
				"client":          p.ClientInfo.Name,
				"clientVersion":   p.ClientInfo.Version,
				"protocolVersion": p.ProtocolVersion,
			}).Info("Initialize request received")
		}
	}

	s.initialized.Store(true)
	return InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    s.capabilities(),
		ServerInfo:      s.serverInfo,
	}, nil
}

func (s *Server) handlePing(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

func (s *Server) handleInitialized(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	s.logger.Info("Connection initialized successfully")
	return nil, nil
}

func (s *Server) handleListResources(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	resources, err := s.resources.ListResources(ctx)
	if err != nil {
		s.logger.WithErr(err).Error("Error listing resources")
		resources = nil
	}
	if resources == nil {
		resources = []Resource{}
	}
	return ListResourcesResult{Resources: resources}, nil
}

// handleReadResource answers every failure with empty contents.
func (s *Server) handleReadResource(ctx context.Context, params json.RawMessage) (interface{}, error) {
	empty := ReadResourceResult{Contents: []ResourceContent{}}

	var p ReadResourceParams
	if err := unmarshalParams(params, &p); err != nil {
		s.logger.WithErr(err).Warn("Error reading resource: malformed params")
		return empty, nil
	}

	contents, err := s.resources.ReadResource(ctx, p.URI)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{"uri": p.URI}).WithErr(err).Warn("Error reading resource")
		return empty, nil
	}
	if contents == nil {
		return empty, nil
	}
	return ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handleListTools(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	tools := s.tools.ListTools(ctx)
	if tools == nil {
		tools = []Tool{}
	}
	return ListToolsResult{Tools: tools}, nil
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CallToolParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, NewError(ErrorCodeInvalidParams, "invalid params: %v", err)
	}
	if p.Name == "" {
		return nil, NewError(ErrorCodeInvalidParams, "invalid params: tool name is required")
	}

	result := s.tools.CallTool(ctx, p.Name, p.Arguments)
	if result.IsError {
		s.logger.WithFields(map[string]interface{}{"tool": p.Name, "result": result.Text()}).Warn("Tool call failed")
	}
	return result, nil
}

func (s *Server) handleListPrompts(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	prompts := s.prompts.ListPrompts(ctx)
	if prompts == nil {
		prompts = []Prompt{}
	}
	for i := range prompts {
		if prompts[i].Arguments == nil {
			prompts[i].Arguments = []PromptArgument{}
		}
	}
	return ListPromptsResult{Prompts: prompts}, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetPromptParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, NewError(ErrorCodeInvalidParams, "invalid params: %v", err)
	}

	result, err := s.prompts.GetPrompt(ctx, p.Name, p.Arguments)
	if errors.Is(err, ErrPromptNotFound) {
		return nil, NewError(ErrorCodeInvalidParams, "Prompt not found: %s", p.Name)
	}
	if err != nil {
		return nil, NewError(ErrorCodeInvalidParams, "%v", err)
	}
	return result, nil
}

// unmarshalParams decodes params into v, treating absent params as an empty object.
func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}
