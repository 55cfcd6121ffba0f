package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the protocol tag carried by every frame.
const JSONRPCVersion = "2.0"

// Kind tells which of the three message shapes a Message holds.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// ID is a request identifier: an integer or a string. Integer ids are limited
// to the int64 range; larger ones fail to decode.
type ID struct {
	Num   int64
	Str   string
	IsStr bool
}

// NewIntID returns an integer ID.
func NewIntID(n int64) ID { return ID{Num: n} }

// NewStringID returns a string ID.
func NewStringID(s string) ID { return ID{Str: s, IsStr: true} }

// String renders the ID the way it appears on the wire.
func (id ID) String() string {
	if id.IsStr {
		return strconv.Quote(id.Str)
	}
	return strconv.FormatInt(id.Num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsStr {
		return json.Marshal(id.Str)
	}
	return []byte(strconv.FormatInt(id.Num, 10)), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("id %s does not fit in a signed 64-bit integer", data)
	}
	if err != nil {
		return fmt.Errorf("id must be an integer or a string, got %s", data)
	}
	*id = NewIntID(n)
	return nil
}

// Message is one frame: a request, a notification or a response.
type Message struct {
	Kind   Kind
	ID     ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
}

// NewRequest builds a request frame.
func NewRequest(id ID, method string, params json.RawMessage) Message {
	return Message{Kind: KindRequest, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification frame.
func NewNotification(method string, params json.RawMessage) Message {
	return Message{Kind: KindNotification, Method: method, Params: params}
}

// NewResponse builds a successful response frame.
func NewResponse(id ID, result json.RawMessage) Message {
	return Message{Kind: KindResponse, ID: id, Result: result}
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id ID, err *Error) Message {
	return Message{Kind: KindResponse, ID: id, Error: err}
}

// DecodeErrorKind classifies why a line could not be decoded.
type DecodeErrorKind int

const (
	// InvalidEncoding means the line is not valid JSON.
	InvalidEncoding DecodeErrorKind = iota + 1
	// InvalidShape means the JSON is not a request, notification or response.
	InvalidShape
)

func (k DecodeErrorKind) String() string {
	switch k {
	case InvalidEncoding:
		return "invalid encoding"
	case InvalidShape:
		return "invalid shape"
	}
	return "unknown"
}

// DecodeError is returned by Decode. It is recoverable: the caller skips the line.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func shapeError(format string, args ...interface{}) error {
	return &DecodeError{Kind: InvalidShape, Err: fmt.Errorf(format, args...)}
}

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

var nullResult = json.RawMessage("null")

func toWire(m Message) (*wireMessage, error) {
	w := &wireMessage{JSONRPC: JSONRPCVersion}
	switch m.Kind {
	case KindRequest:
		if m.Method == "" {
			return nil, errors.New("request without method")
		}
		id := m.ID
		w.ID, w.Method, w.Params = &id, m.Method, m.Params
	case KindNotification:
		if m.Method == "" {
			return nil, errors.New("notification without method")
		}
		w.Method, w.Params = m.Method, m.Params
	case KindResponse:
		id := m.ID
		w.ID = &id
		switch {
		case m.Error != nil && m.Result != nil:
			return nil, errors.New("response with both result and error")
		case m.Error != nil:
			w.Error = m.Error
		case m.Result == nil:
			w.Result = nullResult
		default:
			w.Result = m.Result
		}
	default:
		return nil, fmt.Errorf("unknown message kind %d", m.Kind)
	}
	return w, nil
}

// Encode serializes m to one line terminated by exactly one '\n'.
func Encode(m Message) ([]byte, error) {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	if err := encodeTo(buf, m); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// Decode parses a single line into a Message. Trailing whitespace is ignored.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimRight(line, " \t\r\n")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		if !json.Valid(line) {
			return Message{}, &DecodeError{Kind: InvalidEncoding, Err: err}
		}
		return Message{}, shapeError("frame is not a JSON object")
	}

	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != JSONRPCVersion {
		return Message{}, shapeError("jsonrpc must be %q", JSONRPCVersion)
	}

	var (
		m     Message
		hasID bool
	)
	if raw, ok := fields["id"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.ID); err != nil {
			return Message{}, shapeError("%v", err)
		}
		hasID = true
	}

	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]

	if rawMethod, ok := fields["method"]; ok {
		if err := json.Unmarshal(rawMethod, &m.Method); err != nil || m.Method == "" {
			return Message{}, shapeError("method must be a non-empty string")
		}
		if hasResult || hasError {
			return Message{}, shapeError("message %q carries both method and result/error", m.Method)
		}
		if params, ok := fields["params"]; ok && !isNull(params) {
			m.Params = params
		}
		if hasID {
			m.Kind = KindRequest
		} else {
			m.Kind = KindNotification
		}
		return m, nil
	}

	if !hasID {
		return Message{}, shapeError("response without id")
	}
	if hasResult == hasError {
		return Message{}, shapeError("response %s must carry exactly one of result and error", m.ID)
	}

	m.Kind = KindResponse
	if hasError {
		var e Error
		if err := json.Unmarshal(rawError, &e); err != nil || isNull(rawError) {
			return Message{}, shapeError("malformed error object")
		}
		m.Error = &e
		return m, nil
	}
	// A null result is the same response NewResponse builds with a nil result.
	if !isNull(rawResult) {
		m.Result = rawResult
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
