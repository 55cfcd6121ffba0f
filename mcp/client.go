package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpstdio/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultRequestTimeout = 10 * time.Second

// NotificationHandler receives frames the peer sent without expecting a reply.
type NotificationHandler func(msg Message)

// ClientConfig holds the settings a Client is built from.
type ClientConfig struct {
	logger         observability.Logger
	requestTimeout time.Duration
	clientInfo     Implementation
	onNotification NotificationHandler
}

// ClientConfigOption configures a Client.
type ClientConfigOption func(*ClientConfig)

// UseClientLogger sets the client logger.
func UseClientLogger(logger observability.Logger) ClientConfigOption {
	return func(c *ClientConfig) {
		c.logger = logger
	}
}

// UseRequestTimeout sets how long SendRequest waits for a response.
func UseRequestTimeout(d time.Duration) ClientConfigOption {
	return func(c *ClientConfig) {
		c.requestTimeout = d
	}
}

// UseClientInfo sets the name and version sent with initialize.
func UseClientInfo(name, version string) ClientConfigOption {
	return func(c *ClientConfig) {
		c.clientInfo = Implementation{Name: name, Version: version}
	}
}

// UseNotificationHandler receives frames from the peer that carry no id.
func UseNotificationHandler(h NotificationHandler) ClientConfigOption {
	return func(c *ClientConfig) {
		c.onNotification = h
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		logger:         observability.NewNullLogger(),
		requestTimeout: defaultRequestTimeout,
		clientInfo:     Implementation{Name: DefaultClientName, Version: DefaultClientVersion},
	}
}

// Client writes requests to a server and correlates the responses read back
// by a background loop.
type Client struct {
	ClientConfig

	reader  io.Reader
	writer  *FrameWriter
	pending *pendingTable

	closeOnce sync.Once
	loopDone  chan struct{}
	closing   chan struct{}
}

// NewClient returns a client reading responses from r and writing frames to w.
// The read loop starts immediately and runs until r ends or Close is called,
// so notifications and end of stream are observed before any request is sent.
func NewClient(r io.Reader, w io.Writer, opts ...ClientConfigOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = observability.NewNullLogger()
	}
	if cfg.requestTimeout <= 0 {
		cfg.requestTimeout = defaultRequestTimeout
	}

	c := &Client{
		ClientConfig: cfg,
		reader:       r,
		writer:       NewFrameWriter(w),
		pending:      newPendingTable(),
		loopDone:     make(chan struct{}),
		closing:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.loopDone
}

func (c *Client) readLoop() {
	defer close(c.loopDone)

	reader := NewFrameReader(c.reader)
	for {
		line, err := reader.ReadFrame()
		if err != nil {
			c.onReadEnd(err)
			return
		}

		msg, err := Decode(line)
		if err != nil {
			c.logger.WithErr(err).Warn("Dropping undecodable frame from server")
			continue
		}
		c.route(msg)
	}
}

func (c *Client) onReadEnd(err error) {
	select {
	case <-c.closing:
		c.logger.Debug("Read loop stopped")
		return
	default:
	}

	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		c.logger.WithErr(err).Error("Failed to read from server")
	}
	if n := c.pending.close(ErrProcessExit); n > 0 {
		c.logger.WithFields(map[string]interface{}{"pending": n}).Warn("Server output closed with calls outstanding")
	} else {
		c.logger.Info("Server output closed")
	}
}

func (c *Client) route(msg Message) {
	if msg.Kind != KindResponse {
		c.deliverNotification(msg)
		return
	}

	logger := c.logger.WithFields(map[string]interface{}{"id": msg.ID.String()})
	if msg.ID.IsStr {
		logger.Warn("Response with an id this client never issued")
		return
	}
	if !c.pending.resolve(msg.ID.Num, callResult{msg: msg}) {
		logger.Warn("Response for unknown or expired request")
	}
}

func (c *Client) deliverNotification(msg Message) {
	if c.onNotification != nil {
		c.onNotification(msg)
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"method": msg.Method,
		"kind":   msg.Kind.String(),
	}).Debug("Notification from server")
}

// SendRequest writes a request and blocks until its response arrives, the
// request timeout elapses, ctx ends or the client shuts down. The deadline
// covers the write too, so a peer that stops reading cannot hold the caller.
//
// Failures are *RemoteError, ErrTimeout, ErrCancelled or ErrProcessExit.
func (c *Client) SendRequest(ctx context.Context, method string, params interface{}) (result json.RawMessage, err error) {
	ctx, span := observability.StartSpan(ctx, "mcp.client.request",
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer func() { observability.EndSpan(span, err) }()

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	call, err := c.pending.add(method)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("rpc.id", call.id))
	logger := c.logger.WithFields(map[string]interface{}{"method": method, "id": call.id})

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	wrote := c.send(NewRequest(NewIntID(call.id), method, raw))
	for {
		select {
		case werr := <-wrote:
			if werr == nil {
				logger.Debug("Request sent")
				wrote = nil
				continue
			}
			if _, ok := c.pending.claim(call.id); ok {
				logger.WithErr(werr).Error("Failed to send request")
				return nil, fmt.Errorf("send %s: %w", method, werr)
			}
		case res := <-call.done:
			return c.outcome(method, res)
		case <-timer.C:
			if _, ok := c.pending.claim(call.id); ok {
				logger.WithFields(map[string]interface{}{"timeout": c.requestTimeout.String()}).Warn("Request timed out")
				return nil, fmt.Errorf("%s after %s: %w", method, c.requestTimeout, ErrTimeout)
			}
		case <-ctx.Done():
			if _, ok := c.pending.claim(call.id); ok {
				return nil, fmt.Errorf("%s: %w: %w", method, ErrCancelled, ctx.Err())
			}
		}

		// Lost the claim race: the winner has already filled the buffered slot.
		return c.outcome(method, <-call.done)
	}
}

func (c *Client) outcome(method string, res callResult) (json.RawMessage, error) {
	if res.err != nil {
		return nil, fmt.Errorf("%s: %w", method, res.err)
	}
	if res.msg.Error != nil {
		return nil, &RemoteError{
			Method:  method,
			Code:    res.msg.Error.Code,
			Message: res.msg.Error.Message,
			Data:    res.msg.Error.Data,
		}
	}
	return res.msg.Result, nil
}

// send starts writing msg and reports the outcome on the returned channel.
// A write stuck on a peer that stopped reading keeps the writer busy until the
// stream is closed.
func (c *Client) send(msg Message) <-chan error {
	wrote := make(chan error, 1)
	go func() {
		wrote <- c.writer.WriteMessage(msg)
	}()
	return wrote
}

// SendNotification writes a notification without waiting for any reply. The
// write itself is bounded by the request timeout, ctx and Close.
// Failures are logged and returned.
func (c *Client) SendNotification(ctx context.Context, method string, params interface{}) error {
	raw, err := marshalParams(params)
	if err == nil {
		err = c.awaitWrite(ctx, c.send(NewNotification(method, raw)))
	}
	if err != nil {
		c.logger.WithFields(map[string]interface{}{"method": method}).WithErr(err).Error("Failed to send notification")
		return fmt.Errorf("notify %s: %w", method, err)
	}
	return nil
}

func (c *Client) awaitWrite(ctx context.Context, wrote <-chan error) error {
	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case err := <-wrote:
		return err
	case <-timer.C:
		return fmt.Errorf("write after %s: %w", c.requestTimeout, ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case <-c.closing:
		return ErrCancelled
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

// Pending reports how many requests await a response.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Close fails outstanding requests with ErrCancelled, closes both streams when
// they are closable and waits for the read loop to exit.
func (c *Client) Close() error {
	return c.shutdown(nil)
}

// shutdown runs afterWriterClosed between closing the output stream and
// closing the input stream, giving a child process the chance to exit.
func (c *Client) shutdown(afterWriterClosed func()) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		if n := c.pending.close(ErrCancelled); n > 0 {
			c.logger.WithFields(map[string]interface{}{"pending": n}).Warn("Cancelled outstanding requests")
		}

		err = c.writer.Close()
		if afterWriterClosed != nil {
			afterWriterClosed()
		}
		if rc, ok := c.reader.(io.Closer); ok {
			if cerr := rc.Close(); cerr != nil && err == nil && !errors.Is(cerr, os.ErrClosed) {
				err = cerr
			}
		}

		<-c.loopDone
		c.logger.Info("Client closed")
	})
	return err
}
