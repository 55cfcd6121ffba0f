package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shaharia-lab/mcpstdio/agent"
	"github.com/shaharia-lab/mcpstdio/config"
	"github.com/shaharia-lab/mcpstdio/internal/app"
	"github.com/shaharia-lab/mcpstdio/mcp"
	"github.com/shaharia-lab/mcpstdio/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedAgent(t *testing.T) *agent.Agent {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ResourceRoot = t.TempDir()
	srv, err := app.NewServer(cfg, observability.NewNullLogger())
	require.NoError(t, err)

	toServerR, toServerW := io.Pipe()
	toClientR, toClientW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(context.Background(), toServerR, toClientW)
		toClientW.Close()
	}()
	client := mcp.NewClient(toClientR, toServerW)
	t.Cleanup(func() {
		client.Close()
		<-done
	})

	a := agent.New(client, agent.NewRuleDecider())
	require.NoError(t, a.Start(context.Background()))
	return a
}

func TestChat_RunsUntilExit(t *testing.T) {
	a := startedAgent(t)
	var out bytes.Buffer

	err := chat(context.Background(), a, strings.NewReader("add 2 and 2\nexit\n"), &out, make(chan struct{}))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[AI] The result is 4.")
}

func TestChat_StopsWhenServerExits(t *testing.T) {
	a := startedAgent(t)
	exited := make(chan struct{})
	in, _ := io.Pipe()

	errCh := make(chan error, 1)
	go func() { errCh <- chat(context.Background(), a, in, io.Discard, exited) }()
	close(exited)

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "server process exited")
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not stop after the server exited")
	}
}

func TestChat_StopsOnCancel(t *testing.T) {
	a := startedAgent(t)
	in, _ := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- chat(ctx, a, in, io.Discard, make(chan struct{})) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not stop after cancellation")
	}
}

func TestCallCommand_RejectsInvalidParams(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"call", "tools/call", "{not json"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	assert.ErrorContains(t, err, "params must be valid JSON")
}
