// Package client sends typed JSON-RPC calls to endpoints and routes what they send back.
//
// A Client owns the pieces one call needs: the id generator, the marshaller, the
// transmitter and the response dispatcher. It is also the transmitter's inbound handler,
// so responses reach the dispatcher and notifications reach subscribers.
package client

import (
	"context"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/message"
	"mini-jsonrpc/transport"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NotificationFunc receives the params of a notification sent by an endpoint.
type NotificationFunc func(endpointID string, params []byte)

type Client struct {
	transmitter    transport.Transmitter
	codec          codec.Marshaller
	ids            IDGenerator
	dispatcher     *jsonrpc.ResponseDispatcher
	router         *jsonrpc.Router
	requestTimeout time.Duration
	logger         *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]NotificationFunc
}

type Option func(*Client)

// WithIDGenerator replaces the process-wide id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) { c.ids = g }
}

func WithCodec(m codec.Marshaller) Option {
	return func(c *Client) { c.codec = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDispatcher shares a dispatcher between clients or exposes it to tests.
func WithDispatcher(d *jsonrpc.ResponseDispatcher) Option {
	return func(c *Client) { c.dispatcher = d }
}

// WithRouter answers requests that endpoints send to this client.
func WithRouter(r *jsonrpc.Router) Option {
	return func(c *Client) { c.router = r }
}

// WithRequestTimeout abandons every call that has no response after d.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// New builds a Client on top of t. If t also delivers inbound messages, the Client
// registers itself as t's inbound handler.
func New(t transport.Transmitter, opts ...Option) *Client {
	c := &Client{
		transmitter: t,
		codec:       codec.GetCodec(codec.CodecTypeJSON),
		ids:         defaultIDs,
		logger:      zap.NewNop(),
		subscribers: make(map[string][]NotificationFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = jsonrpc.NewResponseDispatcher(jsonrpc.WithDispatcherLogger(c.logger))
	}
	if r, ok := t.(transport.Receiver); ok {
		r.SetInboundHandler(c)
	}
	return c
}

// Request starts a call of method on endpointID. params may be nil, a single value or
// a slice.
func (c *Client) Request(endpointID, method string, params any) *SendConfigurator {
	return &SendConfigurator{client: c, endpointID: endpointID, method: method, params: params}
}

func (c *Client) Dispatcher() *jsonrpc.ResponseDispatcher { return c.dispatcher }

// Subscribe calls fn for every notification of method, in arrival order per endpoint.
func (c *Client) Subscribe(method string, fn NotificationFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[method] = append(c.subscribers[method], fn)
}

// HandleMessage decodes one inbound message and routes it by kind.
func (c *Client) HandleMessage(endpointID string, data []byte) {
	env, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Warn("discarding undecodable message", zap.String("endpoint", endpointID), zap.Error(err))
		return
	}

	switch env.Kind() {
	case message.KindResponse:
		c.dispatcher.Dispatch(endpointID, env)
	case message.KindNotification:
		c.notify(endpointID, env)
	case message.KindRequest:
		go c.serve(endpointID, env)
	}
}

// HandleDisconnect rejects the calls still waiting on endpointID.
func (c *Client) HandleDisconnect(endpointID string, err error) {
	c.dispatcher.FailEndpoint(endpointID, err)
}

func (c *Client) notify(endpointID string, env *message.Envelope) {
	c.mu.RLock()
	subs := c.subscribers[env.Method]
	c.mu.RUnlock()

	if len(subs) == 0 && c.router != nil {
		c.router.Handle(jsonrpc.WithEndpoint(context.Background(), endpointID), env)
		return
	}
	if len(subs) == 0 {
		c.logger.Debug("no subscriber for notification", zap.String("endpoint", endpointID), zap.String("method", env.Method))
		return
	}
	for _, fn := range subs {
		fn(endpointID, env.Params)
	}
}

func (c *Client) serve(endpointID string, req *message.Envelope) {
	ctx := jsonrpc.WithEndpoint(context.Background(), endpointID)
	var resp *message.Envelope
	if c.router != nil {
		resp = c.router.Handle(ctx, req)
	} else {
		resp = message.NewErrorResponse(req.ID, message.NewError(message.CodeMethodNotFound, "method not found: %s", req.Method))
	}

	data, err := c.codec.Encode(resp)
	if err != nil {
		c.logger.Error("encode response", zap.String("endpoint", endpointID), zap.String("id", req.ID), zap.Error(err))
		return
	}
	if err := c.transmitter.Transmit(ctx, endpointID, data); err != nil {
		c.logger.Warn("transmit response", zap.String("endpoint", endpointID), zap.String("id", req.ID), zap.Error(err))
	}
}
