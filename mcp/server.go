package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/shaharia-lab/mcpstdio/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ServerState is the lifecycle state of a Server.
type ServerState int32

const (
	StateIdle ServerState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s ServerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ServerConfig holds the settings a Server is built from.
type ServerConfig struct {
	logger          observability.Logger
	serverInfo      Implementation
	protocolVersion string
	resources       ResourceProvider
	tools           ToolProvider
	prompts         PromptProvider
	handlers        []namedHandler
	strictInit      bool
}

type namedHandler struct {
	method  string
	handler HandlerFunc
}

// ServerConfigOption configures a Server.
type ServerConfigOption func(*ServerConfig)

// UseLogger sets the logger. Logs must never go to the protocol output stream.
func UseLogger(logger observability.Logger) ServerConfigOption {
	return func(c *ServerConfig) {
		c.logger = logger
	}
}

// UseServerInfo sets the name and version reported by initialize.
func UseServerInfo(name, version string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.serverInfo = Implementation{Name: name, Version: version}
	}
}

// UseProtocolVersion overrides the protocol version reported by initialize.
func UseProtocolVersion(version string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.protocolVersion = version
	}
}

// UseResources enables resources/list and resources/read.
func UseResources(p ResourceProvider) ServerConfigOption {
	return func(c *ServerConfig) {
		c.resources = p
	}
}

// UseTools enables tools/list and tools/call.
func UseTools(p ToolProvider) ServerConfigOption {
	return func(c *ServerConfig) {
		c.tools = p
	}
}

// UsePrompts enables prompts/list and prompts/get.
func UsePrompts(p PromptProvider) ServerConfigOption {
	return func(c *ServerConfig) {
		c.prompts = p
	}
}

// UseHandler registers an additional method.
func UseHandler(method string, h HandlerFunc) ServerConfigOption {
	return func(c *ServerConfig) {
		c.handlers = append(c.handlers, namedHandler{method: method, handler: h})
	}
}

// UseStrictInitialization rejects requests other than initialize and ping
// until initialize has been answered.
func UseStrictInitialization() ServerConfigOption {
	return func(c *ServerConfig) {
		c.strictInit = true
	}
}

func defaultConfig() ServerConfig {
	return ServerConfig{
		logger:          observability.NewNullLogger(),
		serverInfo:      Implementation{Name: DefaultServerName, Version: DefaultServerVersion},
		protocolVersion: DefaultProtocolVersion,
	}
}

// Server is the dispatch engine: it reads frames, routes them through the
// registry and writes one response per request.
type Server struct {
	ServerConfig
	registry    *Registry
	state       atomic.Int32
	initialized atomic.Bool
}

// NewServer builds a server and its registry from opts.
func NewServer(opts ...ServerConfigOption) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = observability.NewNullLogger()
	}

	s := &Server{
		ServerConfig: cfg,
		registry:     NewRegistry(),
	}
	if err := s.registerHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

// Registry exposes the method table. It is frozen once Run starts.
func (s *Server) Registry() *Registry {
	return s.registry
}

// State reports the lifecycle state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(st ServerState) {
	s.state.Store(int32(st))
	s.logger.WithFields(map[string]interface{}{"state": st.String()}).Debug("Server state changed")
}

// Run serves frames from in and writes replies to out until in reaches end of
// stream or ctx is cancelled. It returns nil in both cases and the read error
// otherwise. Run can be called once.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrServerNotIdle
	}
	s.registry.freeze()
	s.logger.WithFields(map[string]interface{}{
		"server":  s.serverInfo.Name,
		"methods": len(s.registry.Methods()),
	}).Info("Server running")

	defer s.setState(StateStopped)

	reader := NewFrameReader(in)
	writer := NewFrameWriter(out)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(frames)
		for {
			line, err := reader.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- line:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateDraining)
			s.logger.Info("Context cancelled, shutting down")
			return nil
		case line, ok := <-frames:
			if !ok {
				s.setState(StateDraining)
				err := <-readErr
				if errors.Is(err, io.EOF) {
					s.logger.Info("Input closed, shutting down")
					return nil
				}
				s.logger.WithErr(err).Error("Failed to read frame")
				return fmt.Errorf("read frame: %w", err)
			}
			s.handleLine(ctx, writer, line)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, w *FrameWriter, line []byte) {
	msg, err := Decode(line)
	if err != nil {
		s.logger.WithErr(err).Warn("Dropping undecodable frame")
		return
	}

	switch msg.Kind {
	case KindNotification:
		s.handleNotification(ctx, msg)
	case KindRequest:
		s.handleRequest(ctx, w, msg)
	case KindResponse:
		s.logger.WithFields(map[string]interface{}{"id": msg.ID.String()}).
			Warn("Ignoring response frame, server issues no requests")
	}
}

func (s *Server) handleNotification(ctx context.Context, msg Message) {
	if _, err := s.dispatch(ctx, msg); err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) && rpcErr.Code == ErrorCodeMethodNotFound {
			return
		}
		s.logger.WithFields(map[string]interface{}{"method": msg.Method}).
			WithErr(err).Error("Notification handler failed")
	}
}

func (s *Server) handleRequest(ctx context.Context, w *FrameWriter, msg Message) {
	reply := s.reply(ctx, msg)
	if err := w.WriteMessage(reply); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"method": msg.Method,
			"id":     msg.ID.String(),
		}).WithErr(err).Error("Failed to write response")
	}
}

func (s *Server) reply(ctx context.Context, msg Message) Message {
	result, err := s.dispatch(ctx, msg)
	if err != nil {
		return NewErrorResponse(msg.ID, toWireError(err))
	}

	raw, err := marshalResult(result)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{"method": msg.Method}).WithErr(err).Error("Failed to marshal result")
		return NewErrorResponse(msg.ID, NewError(ErrorCodeInternal, "failed to marshal result: %v", err))
	}
	return NewResponse(msg.ID, raw)
}

func marshalResult(result interface{}) (json.RawMessage, error) {
	switch v := result.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("handler returned invalid JSON")
		}
		return v, nil
	}
	return json.Marshal(result)
}

// dispatch runs the handler for msg. Handler panics are turned into internal errors.
func (s *Server) dispatch(ctx context.Context, msg Message) (result interface{}, err error) {
	ctx = contextWithMethod(ctx, msg.Method)
	attrs := []attribute.KeyValue{
		attribute.String("rpc.method", msg.Method),
		attribute.String("rpc.kind", msg.Kind.String()),
	}
	if msg.Kind == KindRequest {
		ctx = ContextWithRequestID(ctx, msg.ID)
		attrs = append(attrs, attribute.String("rpc.id", msg.ID.String()))
	}

	ctx, span := observability.StartSpan(ctx, "mcp.server.dispatch", trace.WithAttributes(attrs...))
	defer func() { observability.EndSpan(span, err) }()

	logger := s.logger.WithFields(map[string]interface{}{"method": msg.Method, "kind": msg.Kind.String()})
	if msg.Kind == KindRequest {
		logger = logger.WithFields(map[string]interface{}{"id": msg.ID.String()})
	}

	handler, known := s.registry.Resolve(msg.Method)
	if !known {
		logger.Warn("Unknown method")
	}

	if s.strictInit && msg.Kind == KindRequest && !s.initialized.Load() &&
		msg.Method != MethodInitialize && msg.Method != MethodPing {
		return nil, NewError(ErrorCodeServerNotInitialized, "Server not initialized")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Handler panicked: %v", r)
			result = nil
			err = NewError(ErrorCodeInternal, "internal error: %v", r)
		}
	}()

	logger.Debug("Dispatching")
	return handler(ctx, msg.Params)
}
