// Package app assembles the components the mcpstdio binaries run from a Config.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shaharia-lab/mcpstdio/agent"
	"github.com/shaharia-lab/mcpstdio/chat_history"
	"github.com/shaharia-lab/mcpstdio/config"
	"github.com/shaharia-lab/mcpstdio/mcp"
	"github.com/shaharia-lab/mcpstdio/observability"
	"github.com/shaharia-lab/mcpstdio/provider"
)

// NewLogger builds the configured logger. Logs always go to w, never stdout,
// because stdout carries protocol frames.
func NewLogger(cfg *config.Config, w io.Writer) (observability.Logger, error) {
	return observability.NewLogger(cfg.Log.Format, cfg.Log.Level, w)
}

// NewServer builds a server exposing add_numbers, math_tutor and the files
// under cfg.Server.ResourceRoot.
func NewServer(cfg *config.Config, logger observability.Logger) (*mcp.Server, error) {
	tools, err := provider.NewDefaultToolbox(logger)
	if err != nil {
		return nil, err
	}
	prompts, err := provider.NewDefaultPromptBook()
	if err != nil {
		return nil, err
	}
	resources, err := provider.NewDirectoryResources(cfg.Server.ResourceRoot, logger)
	if err != nil {
		return nil, err
	}

	opts := []mcp.ServerConfigOption{
		mcp.UseLogger(logger),
		mcp.UseServerInfo(cfg.Server.Name, cfg.Server.Version),
		mcp.UseProtocolVersion(cfg.Server.ProtocolVersion),
		mcp.UseTools(tools),
		mcp.UsePrompts(prompts),
		mcp.UseResources(resources),
	}
	if cfg.Server.StrictInitialization {
		opts = append(opts, mcp.UseStrictInitialization())
	}
	return mcp.NewServer(opts...)
}

// StartServerProcess launches the configured server command.
func StartServerProcess(cfg *config.Config, logger observability.Logger, stderr io.Writer) (*mcp.Process, error) {
	return mcp.StartProcess(mcp.ProcessConfig{
		Command:     cfg.Client.Command,
		Args:        cfg.Client.Args,
		Env:         cfg.Client.Env,
		Stderr:      stderr,
		StopTimeout: cfg.Client.StopTimeout.Duration,
	},
		mcp.UseClientLogger(logger),
		mcp.UseRequestTimeout(cfg.Client.RequestTimeout.Duration),
		mcp.UseClientInfo("mcpstdio-client", cfg.Server.Version),
	)
}

// NewDecider returns the rule decider, or an LLM decider over the configured
// provider behind a rate limiter.
func NewDecider(ctx context.Context, cfg *config.Config, logger observability.Logger) (agent.Decider, error) {
	if !strings.EqualFold(cfg.Agent.Decider, "llm") {
		return agent.NewRuleDecider(), nil
	}

	llm, err := agent.NewProvider(ctx, agent.ProviderConfig{
		Name:            cfg.Agent.Provider,
		Model:           cfg.Agent.Model,
		APIKey:          cfg.Agent.APIKey,
		Region:          cfg.Agent.AWSRegion,
		AccessKeyID:     cfg.Agent.AWSAccessKeyID,
		SecretAccessKey: cfg.Agent.AWSSecretKey,
		SessionToken:    cfg.Agent.AWSSessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	limited := agent.NewRateLimitedProvider(llm, cfg.Agent.RequestsPerSecond, 1)
	return agent.NewLLMDecider(limited, &agent.RequestOptions{
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
		Model:       cfg.Agent.Model,
	}, logger)
}

// NewHistory opens the configured transcript store. The returned close
// function is never nil.
func NewHistory(ctx context.Context, cfg *config.Config, logger observability.Logger) (chat_history.ChatHistoryStorage, func() error, error) {
	if strings.EqualFold(cfg.History.Driver, "memory") {
		return chat_history.NewInMemoryChatHistoryStorage(), func() error { return nil }, nil
	}
	storage, err := chat_history.Open(ctx, cfg.History.Driver, cfg.History.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage, storage.Close, nil
}
