// Package message defines the JSON-RPC envelope exchanged between endpoints.
//
// Envelope is the unit every codec encodes and every transport carries. A single struct
// covers the three variants; which one it is follows from the fields that are set:
//
//	Request:      {"id":"1","method":"getWorkspace","params":{"id":"ws1"}}
//	Notification: {"method":"installer/statusChanged","params":{...}}
//	Response:     {"id":"1","result":{"status":"RUNNING"}}
//	          or  {"id":"1","error":{"code":-32601,"message":"method not found"}}
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Kind tells the envelope variants apart.
type Kind int

const (
	KindNotification Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindNotification:
		return "notification"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrInvalidEnvelope is returned by Validate and wrapped by the codecs on decode.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope carries one request, notification or response.
//
//   - Request:      ID and Method set, Params optional.
//   - Notification: Method set, no ID. Never answered.
//   - Response:     ID set, no Method, at most one of Result and Error.
//
// Field order matches the wire order, so the JSON codec reproduces canonical text exactly.
type Envelope struct {
	ID     string          `json:"id,omitempty" msgpack:"id,omitempty"`
	Method string          `json:"method,omitempty" msgpack:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty" msgpack:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty" msgpack:"result,omitempty"`
	Error  *Error          `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Error is the error object of a failed response.
type Error struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an error object.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Kind reports which variant the envelope is.
func (e *Envelope) Kind() Kind {
	if e.Method == "" {
		return KindResponse
	}
	if e.ID == "" {
		return KindNotification
	}
	return KindRequest
}

// IsRequest reports whether the envelope expects an answer.
func (e *Envelope) IsRequest() bool { return e.Kind() == KindRequest }

// Validate checks the variant invariants.
func (e *Envelope) Validate() error {
	switch e.Kind() {
	case KindRequest, KindNotification:
		if e.Result != nil || e.Error != nil {
			return fmt.Errorf("%w: %s %q carries a response payload", ErrInvalidEnvelope, e.Kind(), e.Method)
		}
	case KindResponse:
		if e.ID == "" {
			return fmt.Errorf("%w: response without id", ErrInvalidEnvelope)
		}
		if e.Params != nil {
			return fmt.Errorf("%w: response %q carries params", ErrInvalidEnvelope, e.ID)
		}
		if e.Result != nil && e.Error != nil {
			return fmt.Errorf("%w: response %q carries both result and error", ErrInvalidEnvelope, e.ID)
		}
	}
	return nil
}

// NewRequest builds a request. params may be nil (absent), a single value, or a slice,
// which goes on the wire as an ordered list.
func NewRequest(id, method string, params any) (*Envelope, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: request id must not be empty", ErrInvalidEnvelope)
	}
	return newCall(id, method, params)
}

// NewNotification builds a request that has no id and gets no reply.
func NewNotification(method string, params any) (*Envelope, error) {
	return newCall("", method, params)
}

func newCall(id, method string, params any) (*Envelope, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: method must not be empty", ErrInvalidEnvelope)
	}
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("encode params of %q: %w", method, err)
	}
	return &Envelope{ID: id, Method: method, Params: raw}, nil
}

// NewResult builds a success response. A nil result produces an empty acknowledgement.
func NewResult(id string, result any) (*Envelope, error) {
	raw, err := marshalOptional(result)
	if err != nil {
		return nil, fmt.Errorf("encode result of %q: %w", id, err)
	}
	return &Envelope{ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id string, rpcErr *Error) *Envelope {
	return &Envelope{ID: id, Error: rpcErr}
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
