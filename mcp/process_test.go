package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "MCPSTDIO_TEST_SERVER"

// TestMain turns the test binary into a stdio server when helperEnv is set,
// so process tests can launch a real child.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelperServer(mode))
	}
	os.Exit(m.Run())
}

func runHelperServer(mode string) int {
	if mode == "deaf" {
		// Never reads stdin, so the parent's writes fill the pipe and block.
		time.Sleep(time.Minute)
		return 0
	}
	srv, err := NewServer(
		UseServerInfo("helper-server", "1.0.0"),
		UseTools(stubTools{}),
		UseHandler("sleep", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			time.Sleep(30 * time.Second)
			return nil, nil
		}),
		UseHandler("exit", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			os.Exit(3)
			return nil, nil
		}),
	)
	if err != nil {
		return 1
	}
	if err := srv.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		return 2
	}
	if mode == "stubborn" {
		time.Sleep(time.Minute)
	}
	return 0
}

func startHelper(t *testing.T, mode string, stopTimeout time.Duration) *Process {
	t.Helper()
	p, err := StartProcess(ProcessConfig{
		Command:     os.Args[0],
		Env:         []string{helperEnv + "=" + mode},
		Stderr:      io.Discard,
		StopTimeout: stopTimeout,
	}, UseRequestTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestProcess_HandshakeAndToolCall(t *testing.T) {
	p := startHelper(t, "1", time.Second)
	ctx := context.Background()
	assert.Greater(t, p.Pid(), 0)

	info, err := p.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "helper-server", info.ServerInfo.Name)

	result, err := p.CallTool(ctx, "echo", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, result.Text())

	result, err = p.CallTool(ctx, "missing", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Error: Unknown tool missing", result.Text())

	require.NoError(t, p.Stop())
	select {
	case <-p.Exited():
	default:
		t.Fatal("child still running after Stop")
	}
	assert.NoError(t, p.ExitErr())
	assert.Equal(t, 0, p.Pending())
}

func TestProcess_StopCancelsOutstandingRequests(t *testing.T) {
	p := startHelper(t, "1", 200*time.Millisecond)

	pending := sendAsync(p.Client, context.Background(), "sleep", nil)
	require.Eventually(t, func() bool { return p.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), 5*time.Second)

	res := await(t, pending)
	assert.ErrorIs(t, res.err, ErrCancelled)

	select {
	case <-p.Done():
	default:
		t.Fatal("read loop still running after Stop")
	}
}

func TestProcess_ChildExitFailsPendingWithProcessExit(t *testing.T) {
	p := startHelper(t, "1", time.Second)

	_, err := p.SendRequest(context.Background(), "exit", nil)
	assert.ErrorIs(t, err, ErrProcessExit)

	<-p.Exited()
	var exitErr interface{ ExitCode() int }
	require.True(t, errors.As(p.ExitErr(), &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestProcess_StopKillsStubbornChild(t *testing.T) {
	p := startHelper(t, "stubborn", 100*time.Millisecond)
	require.NoError(t, p.Ping(context.Background()))

	require.NoError(t, p.Stop())
	<-p.Exited()
	assert.Error(t, p.ExitErr())
}

func TestProcess_StopWithStalledWrite(t *testing.T) {
	p := startHelper(t, "deaf", 200*time.Millisecond)

	// Far larger than a pipe buffer.
	args := map[string]string{"blob": strings.Repeat("x", 1<<20)}
	pending := sendAsync(p.Client, context.Background(), MethodToolsCall, args)
	require.Eventually(t, func() bool { return p.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked behind a stalled write")
	}

	select {
	case <-p.Exited():
	default:
		t.Fatal("child still running after Stop")
	}
	assert.Error(t, p.ExitErr())
	assert.ErrorIs(t, await(t, pending).err, ErrCancelled)
}

func TestStartProcess_Errors(t *testing.T) {
	_, err := StartProcess(ProcessConfig{})
	assert.Error(t, err)

	_, err = StartProcess(ProcessConfig{Command: "/definitely/not/a/real/binary"})
	assert.Error(t, err)
}
