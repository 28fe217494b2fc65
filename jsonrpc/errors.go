package jsonrpc

import (
	"errors"
	"fmt"
	"mini-jsonrpc/message"
)

var (
	// ErrInvalidArgument reports a bad call configuration, detected before anything is sent.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateRequestID reports a second pending call for the same endpoint and id.
	ErrDuplicateRequestID = errors.New("duplicate request id")
	// ErrDecodeMismatch reports a result payload that does not fit the expected shape.
	ErrDecodeMismatch = errors.New("result does not match expected shape")
	// ErrCancelled reports a call abandoned before its response arrived.
	ErrCancelled = errors.New("call cancelled")
	// ErrRemote matches every *RemoteError through errors.Is.
	ErrRemote = errors.New("remote error")
)

// RemoteError is the rejection of a call whose response carried an error object.
type RemoteError struct {
	Endpoint string
	Method   string
	Code     int
	Message  string
}

func newRemoteError(endpointID, method string, e *message.Error) *RemoteError {
	return &RemoteError{Endpoint: endpointID, Method: method, Code: e.Code, Message: e.Message}
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("endpoint %s: remote error %d: %s", e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("endpoint %s: %s: remote error %d: %s", e.Endpoint, e.Method, e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }
