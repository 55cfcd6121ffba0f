package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc serves one method. params is nil when the frame carried none.
// The returned value is marshalled as the response result; a returned *Error
// is sent as is, any other error as an internal error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

type requestIDKey struct{}

// ContextWithRequestID attaches the id of the request being served.
func ContextWithRequestID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id of the request being served. It reports
// false while a notification is handled.
func RequestIDFromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(requestIDKey{}).(ID)
	return id, ok
}

// Registry maps method names to handlers. It is filled at server construction
// and frozen once the server runs.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback HandlerFunc
	frozen   bool
}

// NewRegistry returns an empty registry whose fallback answers MethodNotFound.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		fallback: methodNotFound,
	}
}

func methodNotFound(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return nil, NewError(ErrorCodeMethodNotFound, "Method not found: %s", MethodFromContext(ctx))
}

// Register binds handler to method.
func (r *Registry) Register(method string, handler HandlerFunc) error {
	if method == "" {
		return errors.New("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q cannot be nil", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", method, ErrRegistryFrozen)
	}
	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("register %q: %w", method, ErrDuplicateMethod)
	}
	r.handlers[method] = handler
	return nil
}

// SetFallback replaces the handler used for unknown methods.
func (r *Registry) SetFallback(handler HandlerFunc) error {
	if handler == nil {
		return errors.New("fallback handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("set fallback: %w", ErrRegistryFrozen)
	}
	r.fallback = handler
	return nil
}

// Lookup returns the handler registered for method.
func (r *Registry) Lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[method]
	return h, ok
}

// Resolve returns the handler for method, or the fallback when none is registered.
func (r *Registry) Resolve(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[method]; ok {
		return h, true
	}
	return r.fallback, false
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

type methodKey struct{}

func contextWithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey{}, method)
}

// MethodFromContext returns the method being dispatched.
func MethodFromContext(ctx context.Context) string {
	m, _ := ctx.Value(methodKey{}).(string)
	return m
}
