// Package jsonrpc is the correlation core: it tracks every outstanding request by
// (endpoint, request id) and completes the caller's promise when the matching response
// arrives, decoded into the shape the caller asked for.
//
//	Register(ep-1, "7", DTO(Workspace)) ──► pending[{ep-1,7}] ──► *Promise[Workspace]
//	Dispatch(ep-1, {"id":"7","result":{...}}) ──► remove {ep-1,7} ──► decode ──► Resolve
//
// The pending table is the only shared state. Register, lookup and removal happen under one
// mutex, so a response never sees a half-registered call and every call is retired once.
package jsonrpc

import (
	"fmt"
	"mini-jsonrpc/message"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type callKey struct {
	endpoint string
	id       string
}

// pendingCall is the bookkeeping entry for one outstanding request.
type pendingCall struct {
	key    callKey
	method string
	shape  Shape
	// complete decodes the response payload and completes the typed promise.
	complete func(resp *message.Envelope)
	// fail rejects the typed promise.
	fail func(err error)
}

// ResponseDispatcher owns the table of pending calls.
type ResponseDispatcher struct {
	mu      sync.Mutex
	pending map[callKey]*pendingCall
	dropped atomic.Uint64
	logger  *zap.Logger
}

// DispatcherOption configures a ResponseDispatcher.
type DispatcherOption func(*ResponseDispatcher)

// WithDispatcherLogger sets the logger for dropped and rejected responses.
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *ResponseDispatcher) { d.logger = l }
}

func NewResponseDispatcher(opts ...DispatcherOption) *ResponseDispatcher {
	d := &ResponseDispatcher{
		pending: make(map[callKey]*pendingCall),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register stores a pending call for (endpointID, requestID) and returns the promise it
// will complete. R must be the Go type of shape (see Shape).
func Register[R any](d *ResponseDispatcher, endpointID, requestID string, shape Shape) (*Promise[R], error) {
	return RegisterCall[R](d, endpointID, requestID, "", shape)
}

// RegisterCall is Register with the method name kept for error reporting.
func RegisterCall[R any](d *ResponseDispatcher, endpointID, requestID, method string, shape Shape) (*Promise[R], error) {
	if err := CheckShape[R](shape); err != nil {
		return nil, err
	}
	if endpointID == "" || requestID == "" {
		return nil, fmt.Errorf("%w: endpoint and request id must not be empty", ErrInvalidArgument)
	}

	key := callKey{endpoint: endpointID, id: requestID}
	p := NewPromise[R]()
	call := &pendingCall{
		key:    key,
		method: method,
		shape:  shape,
		complete: func(resp *message.Envelope) {
			if resp.Error != nil {
				p.Reject(newRemoteError(endpointID, method, resp.Error))
				return
			}
			var v R
			if err := shape.decode(resp.Result, &v); err != nil {
				p.Reject(err)
				return
			}
			p.Resolve(v)
		},
		fail: func(err error) { p.Reject(err) },
	}
	p.abandon = func(cause error) bool { return d.retire(key, cause) }

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pending[key]; exists {
		return nil, fmt.Errorf("%w: endpoint %s, request %s", ErrDuplicateRequestID, endpointID, requestID)
	}
	d.pending[key] = call
	return p, nil
}

// CheckShape reports whether shape is valid and decodes into R.
func CheckShape[R any](shape Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	if want, got := shape.GoType(), reflect.TypeFor[R](); want != got {
		return fmt.Errorf("%w: %s result decodes into %s, not %s", ErrInvalidArgument, shape, want, got)
	}
	return nil
}

// Dispatch completes the pending call matching resp. A response with no pending call is
// dropped: it is a duplicate or arrived after the call was abandoned.
func (d *ResponseDispatcher) Dispatch(endpointID string, resp *message.Envelope) {
	if resp == nil || resp.Kind() != message.KindResponse {
		d.drop(endpointID, resp, "not a response")
		return
	}
	call := d.take(callKey{endpoint: endpointID, id: resp.ID})
	if call == nil {
		d.drop(endpointID, resp, "no pending call")
		return
	}
	call.complete(resp)
}

// Cancel abandons a pending call, rejecting it with ErrCancelled.
// It reports false if no such call is pending.
func (d *ResponseDispatcher) Cancel(endpointID, requestID string) bool {
	return d.retire(callKey{endpoint: endpointID, id: requestID}, ErrCancelled)
}

// Fail retires a pending call with err, typically a transmit failure.
func (d *ResponseDispatcher) Fail(endpointID, requestID string, err error) bool {
	return d.retire(callKey{endpoint: endpointID, id: requestID}, err)
}

// FailEndpoint rejects every call pending on endpointID, used when its connection is lost.
// It returns the number of calls rejected.
func (d *ResponseDispatcher) FailEndpoint(endpointID string, err error) int {
	d.mu.Lock()
	var calls []*pendingCall
	for key, call := range d.pending {
		if key.endpoint == endpointID {
			calls = append(calls, call)
			delete(d.pending, key)
		}
	}
	d.mu.Unlock()

	for _, call := range calls {
		call.fail(err)
	}
	if len(calls) > 0 {
		d.logger.Warn("rejected pending calls of lost endpoint",
			zap.String("endpoint", endpointID), zap.Int("calls", len(calls)), zap.Error(err))
	}
	return len(calls)
}

// Len returns the number of pending calls.
func (d *ResponseDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Dropped returns the number of responses discarded without a pending call.
func (d *ResponseDispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *ResponseDispatcher) take(key callKey) *pendingCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.pending[key]
	if !ok {
		return nil
	}
	delete(d.pending, key)
	return call
}

func (d *ResponseDispatcher) retire(key callKey, cause error) bool {
	call := d.take(key)
	if call == nil {
		return false
	}
	call.fail(cause)
	d.logger.Debug("abandoned pending call",
		zap.String("endpoint", key.endpoint), zap.String("id", key.id), zap.String("method", call.method),
		zap.Stringer("shape", call.shape), zap.Error(cause))
	return true
}

func (d *ResponseDispatcher) drop(endpointID string, resp *message.Envelope, reason string) {
	d.dropped.Add(1)
	fields := []zap.Field{zap.String("endpoint", endpointID), zap.String("reason", reason)}
	if resp != nil {
		fields = append(fields, zap.String("id", resp.ID))
	}
	d.logger.Warn("dropped response", fields...)
}
