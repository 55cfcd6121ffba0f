package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeServer is the far end of a client under test. Every frame the client
// writes is decoded onto requests so the client never blocks on the pipe.
type fakeServer struct {
	requests chan Message
	writer   *FrameWriter
	toClient *io.PipeWriter
}

func newClientPair(t *testing.T, opts ...ClientConfigOption) (*Client, *fakeServer) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	fs := &fakeServer{
		requests: make(chan Message, 128),
		writer:   NewFrameWriter(respW),
		toClient: respW,
	}
	go func() {
		defer close(fs.requests)
		reader := NewFrameReader(reqR)
		for {
			line, err := reader.ReadFrame()
			if err != nil {
				return
			}
			msg, err := Decode(line)
			if err != nil {
				continue
			}
			fs.requests <- msg
		}
	}()

	c := NewClient(respR, reqW, opts...)

	t.Cleanup(func() {
		c.Close()
		reqR.Close()
		respW.Close()
	})
	return c, fs
}

func (fs *fakeServer) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg, ok := <-fs.requests:
		require.True(t, ok, "client stream closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from client")
	}
	return Message{}
}

func (fs *fakeServer) reply(msg Message) error {
	return fs.writer.WriteMessage(msg)
}

type sendResult struct {
	result json.RawMessage
	err    error
}

func sendAsync(c *Client, ctx context.Context, method string, params interface{}) <-chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		result, err := c.SendRequest(ctx, method, params)
		ch <- sendResult{result: result, err: err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("SendRequest did not return")
	}
	return sendResult{}
}

func TestClient_RequestResponse(t *testing.T) {
	c, fs := newClientPair(t)

	pending := sendAsync(c, context.Background(), "tools/list", map[string]string{"cursor": "a"})

	req := fs.next(t)
	assert.Equal(t, KindRequest, req.Kind)
	assert.Equal(t, NewIntID(1), req.ID)
	assert.Equal(t, "tools/list", req.Method)
	assert.JSONEq(t, `{"cursor":"a"}`, string(req.Params))

	require.NoError(t, fs.reply(NewResponse(req.ID, json.RawMessage(`{"tools":[]}`))))

	res := await(t, pending)
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"tools":[]}`, string(res.result))
	assert.Equal(t, 0, c.Pending())
}

func TestClient_IDsIncreaseFromOne(t *testing.T) {
	c, fs := newClientPair(t)

	for want := int64(1); want <= 3; want++ {
		pending := sendAsync(c, context.Background(), MethodPing, nil)
		req := fs.next(t)
		assert.Equal(t, NewIntID(want), req.ID)
		assert.Nil(t, req.Params)
		require.NoError(t, fs.reply(NewResponse(req.ID, json.RawMessage(`{}`))))
		require.NoError(t, await(t, pending).err)
	}
}

func TestClient_RemoteError(t *testing.T) {
	c, fs := newClientPair(t)

	pending := sendAsync(c, context.Background(), "prompts/get", nil)
	req := fs.next(t)
	require.NoError(t, fs.reply(NewErrorResponse(req.ID, &Error{Code: ErrorCodeInvalidParams, Message: "Prompt not found: x"})))

	res := await(t, pending)
	var remote *RemoteError
	require.True(t, errors.As(res.err, &remote))
	assert.Equal(t, ErrorCodeInvalidParams, remote.Code)
	assert.Equal(t, "Prompt not found: x", remote.Message)
	assert.Equal(t, "prompts/get", remote.Method)
	assert.Equal(t, "server error: Prompt not found: x (code: -32602)", remote.Error())
}

func TestClient_TimeoutRemovesPendingEntry(t *testing.T) {
	c, fs := newClientPair(t, UseRequestTimeout(50*time.Millisecond))

	pending := sendAsync(c, context.Background(), "slow", nil)
	req := fs.next(t)

	res := await(t, pending)
	assert.ErrorIs(t, res.err, ErrTimeout)
	assert.Equal(t, 0, c.Pending())
	assert.False(t, c.pending.has(req.ID.Num))

	// A late answer is dropped and does not disturb the next call.
	require.NoError(t, fs.reply(NewResponse(req.ID, json.RawMessage(`{}`))))

	next := sendAsync(c, context.Background(), MethodPing, nil)
	req2 := fs.next(t)
	assert.Equal(t, NewIntID(2), req2.ID)
	require.NoError(t, fs.reply(NewResponse(req2.ID, json.RawMessage(`{"ok":true}`))))

	res = await(t, next)
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"ok":true}`, string(res.result))
}

func TestClient_ContextCancellation(t *testing.T) {
	c, fs := newClientPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	pending := sendAsync(c, ctx, "slow", nil)
	fs.next(t)
	cancel()

	res := await(t, pending)
	assert.ErrorIs(t, res.err, ErrCancelled)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_ConcurrentRequestsAnsweredOutOfOrder(t *testing.T) {
	const n = 25
	c, fs := newClientPair(t)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			raw, err := c.SendRequest(context.Background(), "echo", map[string]int{"n": i})
			if err != nil {
				return err
			}
			var got struct{ N int }
			if err := json.Unmarshal(raw, &got); err != nil {
				return err
			}
			if got.N != i {
				return fmt.Errorf("request %d received answer for %d", i, got.N)
			}
			return nil
		})
	}

	requests := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		requests = append(requests, fs.next(t))
	}
	rand.Shuffle(len(requests), func(i, j int) { requests[i], requests[j] = requests[j], requests[i] })

	seen := make(map[int64]bool)
	for _, req := range requests {
		assert.False(t, seen[req.ID.Num], "duplicate id %d", req.ID.Num)
		seen[req.ID.Num] = true
		require.NoError(t, fs.reply(NewResponse(req.ID, req.Params)))
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, 0, c.Pending())
}

func TestClient_CloseCancelsPendingRequests(t *testing.T) {
	c, fs := newClientPair(t)

	first := sendAsync(c, context.Background(), "slow", nil)
	second := sendAsync(c, context.Background(), "slow", nil)
	fs.next(t)
	fs.next(t)

	require.NoError(t, c.Close())

	for _, ch := range []<-chan sendResult{first, second} {
		res := await(t, ch)
		assert.ErrorIs(t, res.err, ErrCancelled)
	}
	assert.Equal(t, 0, c.Pending())

	_, err := c.SendRequest(context.Background(), MethodPing, nil)
	assert.ErrorIs(t, err, ErrCancelled)

	select {
	case <-c.Done():
	default:
		t.Fatal("read loop still running after Close")
	}
}

func TestClient_EndOfStreamFailsWithProcessExit(t *testing.T) {
	c, fs := newClientPair(t)

	pending := sendAsync(c, context.Background(), "slow", nil)
	fs.next(t)

	require.NoError(t, fs.toClient.Close())

	res := await(t, pending)
	assert.ErrorIs(t, res.err, ErrProcessExit)

	<-c.Done()
	_, err := c.SendRequest(context.Background(), MethodPing, nil)
	assert.ErrorIs(t, err, ErrProcessExit)
}

func TestClient_IgnoresUnknownAndMalformedResponses(t *testing.T) {
	c, fs := newClientPair(t)

	pending := sendAsync(c, context.Background(), MethodPing, nil)
	req := fs.next(t)

	require.NoError(t, fs.reply(NewResponse(NewIntID(999), json.RawMessage(`{}`))))
	require.NoError(t, fs.reply(NewResponse(NewStringID("1"), json.RawMessage(`{}`))))
	_, err := fs.toClient.Write([]byte("not a frame\n"))
	require.NoError(t, err)
	require.NoError(t, fs.reply(NewResponse(req.ID, json.RawMessage(`{"ok":1}`))))

	res := await(t, pending)
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"ok":1}`, string(res.result))
}

func TestClient_DeliversServerNotifications(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	c, fs := newClientPair(t, UseNotificationHandler(func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Method)
	}))

	pending := sendAsync(c, context.Background(), MethodPing, nil)
	req := fs.next(t)
	require.NoError(t, fs.reply(NewNotification("notifications/message", json.RawMessage(`{"level":"info"}`))))
	require.NoError(t, fs.reply(NewResponse(req.ID, json.RawMessage(`{}`))))
	require.NoError(t, await(t, pending).err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"notifications/message"}, got)
}

func TestClient_SendNotification(t *testing.T) {
	c, fs := newClientPair(t)

	require.NoError(t, c.SendNotification(context.Background(), NotificationInitialized, nil))

	msg := fs.next(t)
	assert.Equal(t, KindNotification, msg.Kind)
	assert.Equal(t, NotificationInitialized, msg.Method)

	err := c.SendNotification(context.Background(), "bad", make(chan int))
	assert.Error(t, err)
}

func TestClient_WriteFailureDoesNotLeavePendingEntry(t *testing.T) {
	respR, respW := io.Pipe()
	defer respW.Close()
	reqR, reqW := io.Pipe()
	reqR.Close()

	c := NewClient(respR, reqW)
	defer c.Close()

	_, err := c.SendRequest(context.Background(), MethodPing, nil)
	require.Error(t, err)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_StalledWriteHonoursDeadlines(t *testing.T) {
	respR, respW := io.Pipe()
	defer respW.Close()
	reqR, reqW := io.Pipe()
	defer reqR.Close()

	// Nobody reads reqR, so every write blocks.
	c := NewClient(respR, reqW, UseRequestTimeout(100*time.Millisecond))
	defer c.Close()

	start := time.Now()
	_, err := c.SendRequest(context.Background(), MethodPing, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, c.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	pending := sendAsync(c, ctx, MethodPing, nil)
	cancel()
	assert.ErrorIs(t, await(t, pending).err, ErrCancelled)

	err = c.SendNotification(context.Background(), NotificationInitialized, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_CloseUnblocksStalledWrite(t *testing.T) {
	respR, respW := io.Pipe()
	defer respW.Close()
	reqR, reqW := io.Pipe()
	defer reqR.Close()

	c := NewClient(respR, reqW, UseRequestTimeout(time.Minute))

	pending := sendAsync(c, context.Background(), MethodToolsCall, nil)
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a stalled write")
	}

	assert.ErrorIs(t, await(t, pending).err, ErrCancelled)
}

func TestClient_ReadLoopRunsBeforeAnyRequest(t *testing.T) {
	respR, respW := io.Pipe()
	_, reqW := io.Pipe()

	got := make(chan string, 1)
	c := NewClient(respR, reqW, UseNotificationHandler(func(msg Message) {
		got <- msg.Method
	}))
	defer c.Close()

	require.NoError(t, NewFrameWriter(respW).WriteMessage(NewNotification("notifications/message", nil)))
	select {
	case method := <-got:
		assert.Equal(t, "notifications/message", method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	require.NoError(t, respW.Close())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not observe end of stream")
	}

	_, err := c.SendRequest(context.Background(), MethodPing, nil)
	assert.ErrorIs(t, err, ErrProcessExit)
}

func TestClient_CloseBeforeAnyRequest(t *testing.T) {
	respR, respW := io.Pipe()
	defer respW.Close()
	_, reqW := io.Pipe()

	c := NewClient(respR, reqW)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.SendRequest(context.Background(), MethodPing, nil)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestClient_AgainstServer(t *testing.T) {
	srv := newTestServer(t, UseTools(stubTools{}), UsePrompts(stubPrompts{}), UseResources(&stubResources{}))

	toServerR, toServerW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(context.Background(), toServerR, toClientW)
		toClientW.Close()
	}()

	c := NewClient(toClientR, toServerW, UseClientInfo("test-client", "0.1.0"))
	ctx := context.Background()

	info, err := c.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-server", info.ServerInfo.Name)
	assert.Equal(t, DefaultProtocolVersion, info.ProtocolVersion)
	assert.NotNil(t, info.Capabilities.Tools)

	require.NoError(t, c.Ping(ctx))

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := c.CallTool(ctx, "echo", map[string]string{"say": "hi"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"say":"hi"}`, result.Text())

	prompt, err := c.GetPrompt(ctx, "greet", map[string]string{"who": "ann"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "hello ann", prompt.Messages[0].Content.Text)

	_, err = c.GetPrompt(ctx, "nope", nil)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, ErrorCodeInvalidParams, remote.Code)

	contents, err := c.ReadResource(ctx, "file:///data/a.txt")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "hello", contents[0].Text)

	require.NoError(t, c.Close())
	require.NoError(t, <-serverDone)
	assert.Equal(t, StateStopped, srv.State())
}
