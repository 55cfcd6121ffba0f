package mcp

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603

	// ErrorCodeServerNotInitialized is returned by a strict server for requests
	// that arrive before initialize.
	ErrorCodeServerNotInitialized = -32002
)

// Error represents a JSON-RPC error object. Handlers return it to choose the
// code sent back to the caller.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// NewError returns an *Error with a formatted message.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Client side outcomes of SendRequest.
var (
	ErrTimeout     = errors.New("request timed out")
	ErrCancelled   = errors.New("request cancelled")
	ErrProcessExit = errors.New("server process exited")
)

// Server side sentinels.
var (
	ErrServerNotIdle   = errors.New("server is not idle")
	ErrRegistryFrozen  = errors.New("registry is frozen")
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrDuplicateMethod = errors.New("method already registered")
)

// RemoteError is returned by SendRequest when the peer answered with an error.
type RemoteError struct {
	Method  string
	Code    int
	Message string
	Data    interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error: %s (code: %d)", e.Message, e.Code)
}

// toWireError converts a handler failure to the error object sent on the wire.
func toWireError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: ErrorCodeInternal, Message: err.Error()}
}
