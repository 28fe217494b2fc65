package transport

import (
	"context"
	"fmt"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/registry"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// EndpointTransmitter keeps one Session per endpoint and opens it on first use:
// the endpoint id is resolved through the registry, the balancer picks an instance,
// and dial connects to it. A broken session is evicted and the next Transmit dials again.
type EndpointTransmitter struct {
	dial      DialFunc
	registry  registry.Registry
	balancer  loadbalance.Balancer
	heartbeat time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	inbound  InboundHandler
	closed   bool
	dialing  singleflight.Group
}

// Option configures an EndpointTransmitter.
type Option func(*EndpointTransmitter)

// WithHeartbeat sets the heartbeat interval of new sessions; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(t *EndpointTransmitter) { t.heartbeat = d }
}

// WithDialTimeout bounds each dial.
func WithDialTimeout(d time.Duration) Option {
	return func(t *EndpointTransmitter) { t.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *EndpointTransmitter) { t.logger = l }
}

// WithInboundHandler sets the handler for messages read from any session.
func WithInboundHandler(h InboundHandler) Option {
	return func(t *EndpointTransmitter) { t.inbound = h }
}

func NewEndpointTransmitter(dial DialFunc, reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *EndpointTransmitter {
	t := &EndpointTransmitter{
		dial:      dial,
		registry:  reg,
		balancer:  bal,
		heartbeat: 30 * time.Second,
		timeout:   5 * time.Second,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.balancer == nil {
		t.balancer = &loadbalance.RoundRobinBalancer{}
	}
	return t
}

// SetInboundHandler routes messages of sessions opened from now on to h.
func (t *EndpointTransmitter) SetInboundHandler(h InboundHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbound = h
}

// Transmit sends data to endpointID, connecting first if needed.
func (t *EndpointTransmitter) Transmit(ctx context.Context, endpointID string, data []byte) error {
	sess, err := t.session(ctx, endpointID)
	if err != nil {
		return err
	}
	return sess.Send(ctx, data)
}

func (t *EndpointTransmitter) session(ctx context.Context, endpointID string) (*Session, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if sess, ok := t.sessions[endpointID]; ok {
		if sess.Err() == nil {
			t.mu.Unlock()
			return sess, nil
		}
		// Ended before it was registered, so the disconnect found nothing to evict.
		delete(t.sessions, endpointID)
	}
	t.mu.Unlock()

	// Concurrent first calls to one endpoint share a single dial. The dial outlives the
	// caller that started it and is bounded by the dial timeout alone.
	v, err, _ := t.dialing.Do(endpointID, func() (any, error) {
		return t.connect(context.WithoutCancel(ctx), endpointID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (t *EndpointTransmitter) connect(ctx context.Context, endpointID string) (*Session, error) {
	t.mu.Lock()
	if sess, ok := t.sessions[endpointID]; ok {
		t.mu.Unlock()
		return sess, nil
	}
	t.mu.Unlock()

	instances, err := t.registry.Discover(endpointID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownEndpoint, endpointID, err)
	}
	instance, err := t.balancer.Pick(endpointID, instances)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownEndpoint, endpointID, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conn, err := t.dial(dialCtx, instance.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s at %s: %w", endpointID, instance.Addr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return nil, ErrClosed
	}
	sess := NewSession(endpointID, conn, &evictingHandler{t: t}, t.heartbeat, t.logger)
	t.sessions[endpointID] = sess
	t.logger.Info("connected endpoint",
		zap.String("endpoint", endpointID), zap.String("addr", instance.Addr), zap.String("balancer", t.balancer.Name()))
	return sess, nil
}

// evictingHandler forwards session events to the current inbound handler and forgets
// sessions that ended.
type evictingHandler struct {
	t *EndpointTransmitter
}

func (h *evictingHandler) HandleMessage(endpointID string, data []byte) {
	if in := h.t.handler(); in != nil {
		in.HandleMessage(endpointID, data)
	}
}

func (h *evictingHandler) HandleDisconnect(endpointID string, err error) {
	h.t.mu.Lock()
	if sess, ok := h.t.sessions[endpointID]; ok && sess.Err() != nil {
		delete(h.t.sessions, endpointID)
	}
	in := h.t.inbound
	h.t.mu.Unlock()

	h.t.logger.Warn("endpoint disconnected", zap.String("endpoint", endpointID), zap.Error(err))
	if in != nil {
		in.HandleDisconnect(endpointID, err)
	}
}

func (t *EndpointTransmitter) handler() InboundHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inbound
}

// Connected returns the endpoints that currently have an open session.
func (t *EndpointTransmitter) Connected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every session. Further Transmit calls fail with ErrClosed.
func (t *EndpointTransmitter) Close() error {
	t.mu.Lock()
	t.closed = true
	sessions := t.sessions
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	return nil
}
