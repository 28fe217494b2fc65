package client

import (
	"context"
	"fmt"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/message"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadySent is returned by a second terminal call on the same SendConfigurator.
var ErrAlreadySent = fmt.Errorf("%w: request already sent", jsonrpc.ErrInvalidArgument)

// SendConfigurator is one outbound call with its endpoint, method and params fixed.
// Nothing happens until a terminal operation runs, and only one may run:
//
//	c.Request("ep-1", "installer/statusChanged", event).SendAndSkipResult(ctx)
//	p, err := client.SendAndReceive[dto.Workspace](ctx, c.Request("ep-1", "getWorkspace", ref), jsonrpc.DTOOf[dto.Workspace]())
type SendConfigurator struct {
	client     *Client
	endpointID string
	method     string
	params     any
	used       atomic.Bool
}

func (s *SendConfigurator) EndpointID() string { return s.endpointID }
func (s *SendConfigurator) Method() string     { return s.method }

func (s *SendConfigurator) claim() error {
	if s.endpointID == "" {
		return fmt.Errorf("%w: endpoint id must not be empty", jsonrpc.ErrInvalidArgument)
	}
	if s.method == "" {
		return fmt.Errorf("%w: method must not be empty", jsonrpc.ErrInvalidArgument)
	}
	if !s.used.CompareAndSwap(false, true) {
		return ErrAlreadySent
	}
	return nil
}

// SendAndSkipResult transmits the call as a notification. No response is expected and
// none is tracked.
func (s *SendConfigurator) SendAndSkipResult(ctx context.Context) error {
	if err := s.claim(); err != nil {
		return err
	}
	env, err := message.NewNotification(s.method, s.params)
	if err != nil {
		return fmt.Errorf("%w: %v", jsonrpc.ErrInvalidArgument, err)
	}
	data, err := s.client.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", jsonrpc.ErrInvalidArgument, err)
	}

	s.client.logger.Debug("transmit notification", zap.String("endpoint", s.endpointID), zap.String("method", s.method))
	return s.client.transmitter.Transmit(ctx, s.endpointID, data)
}

// SendAndReceive transmits the call as a request and returns the promise of its result,
// decoded as shape. R must be the Go type of shape.
//
// Bad configuration fails synchronously with jsonrpc.ErrInvalidArgument and transmits
// nothing. Everything that goes wrong after the call is registered, including the
// transmit itself, rejects the promise instead.
func SendAndReceive[R any](ctx context.Context, s *SendConfigurator, shape jsonrpc.Shape) (*jsonrpc.Promise[R], error) {
	if err := jsonrpc.CheckShape[R](shape); err != nil {
		return nil, err
	}
	if err := s.claim(); err != nil {
		return nil, err
	}
	c := s.client

	id := c.ids.Next()
	env, err := message.NewRequest(id, s.method, s.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jsonrpc.ErrInvalidArgument, err)
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jsonrpc.ErrInvalidArgument, err)
	}

	// Register before transmitting so the response cannot overtake its pending call.
	p, err := jsonrpc.RegisterCall[R](c.dispatcher, s.endpointID, id, s.method, shape)
	if err != nil {
		return nil, err
	}
	if d := c.requestTimeout; d > 0 {
		timer := time.AfterFunc(d, func() {
			c.dispatcher.Fail(s.endpointID, id, fmt.Errorf("%w: no response to %s within %s", jsonrpc.ErrCancelled, s.method, d))
		})
		p.OnComplete(func(R, error) { timer.Stop() })
	}

	c.logger.Debug("transmit request",
		zap.String("endpoint", s.endpointID), zap.String("id", id), zap.String("method", s.method), zap.Stringer("shape", shape))
	if err := c.transmitter.Transmit(ctx, s.endpointID, data); err != nil {
		c.dispatcher.Fail(s.endpointID, id, fmt.Errorf("transmit %s to %s: %w", s.method, s.endpointID, err))
	}
	return p, nil
}

// Call is SendAndReceive followed by a wait bounded by ctx.
func Call[R any](ctx context.Context, s *SendConfigurator, shape jsonrpc.Shape) (R, error) {
	p, err := SendAndReceive[R](ctx, s, shape)
	if err != nil {
		var zero R
		return zero, err
	}
	return p.Await(ctx)
}
