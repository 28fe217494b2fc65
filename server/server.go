// Package server accepts endpoint connections and answers the requests they send.
//
// Request processing pipeline:
//
//	Accept conn (TCP) or Upgrade (WebSocket) → Session per peer, endpoint id from uuid
//	  → recvLoop: Codec.Decode each message
//	    → request / notification: go handleRequest → Middleware Chain → Router → Codec.Encode → Session.Send
//	    → response: forwarded to the inbound handler (a client.Client calling this peer)
//
// The server is also a transport.Transmitter for its peers, so client.New(srv) can call
// into and notify connected endpoints.
package server

import (
	"context"
	"fmt"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/message"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/transport"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RegistryTTL is the lease, in seconds, under which the server registers its name.
const RegistryTTL = 10

type Server struct {
	name      string
	codecType codec.CodecType
	codec     codec.Marshaller
	router    *jsonrpc.Router
	heartbeat time.Duration
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	middlewares []middleware.Middleware
	handlerOnce sync.Once
	handler     middleware.HandlerFunc // middleware(middleware(...(router.Handle)))

	mu            sync.Mutex
	listeners     []net.Listener
	sessions      map[string]*transport.Session
	inbound       transport.InboundHandler
	registry      registry.Registry
	advertiseAddr string // Registered address, routable unlike a ":8080" listen address

	wg       sync.WaitGroup // In-flight requests
	shutdown atomic.Bool
}

type Option func(*Server)

// WithName sets the endpoint id the server registers under.
func WithName(name string) Option {
	return func(s *Server) { s.name = name }
}

func WithCodec(t codec.CodecType) Option {
	return func(s *Server) { s.codecType = t }
}

func WithRouter(r *jsonrpc.Router) Option {
	return func(s *Server) { s.router = r }
}

// WithHeartbeat sets the heartbeat interval of peer sessions; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCheckOrigin replaces the WebSocket origin check, which accepts every origin by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

func New(opts ...Option) *Server {
	s := &Server{
		name:      "mini-jsonrpc",
		heartbeat: 30 * time.Second,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*transport.Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = jsonrpc.NewRouter()
	}
	s.codec = codec.GetCodec(s.codecType)
	return s
}

func (s *Server) Name() string             { return s.name }
func (s *Server) Router() *jsonrpc.Router { return s.router }

// Register adds route groups to the server's router.
func (s *Server) Register(groups ...jsonrpc.RoutesGroup) {
	s.router.RegisterGroups(groups)
	jsonrpc.LogRoutes(s.logger, groups)
}

// Use registers a middleware. Middlewares are applied in the order they are added and
// must be registered before the first request arrives.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// chain builds the middleware chain once:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
func (s *Server) chain() middleware.HandlerFunc {
	s.handlerOnce.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.router.Handle)
	})
	return s.handler
}

// SetInboundHandler receives the responses peers send to calls made through this server,
// and learns about lost peers.
func (s *Server) SetInboundHandler(h transport.InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = h
}

// Serve listens on address and serves framed TCP peers until Shutdown.
//
// advertiseAddr is what gets registered in reg under the server's name; it differs from
// the listen address because ":8080" is not routable. Pass a nil reg to skip registration.
func (s *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	if s.shutdown.Load() {
		listener.Close()
		return transport.ErrClosed
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()

	if reg != nil {
		if advertiseAddr == "" {
			advertiseAddr = listener.Addr().String()
		}
		if err := reg.Register(s.name, registry.Instance{Addr: advertiseAddr}, RegistryTTL); err != nil {
			listener.Close()
			return fmt.Errorf("register %s at %s: %w", s.name, advertiseAddr, err)
		}
		s.mu.Lock()
		s.registry, s.advertiseAddr = reg, advertiseAddr
		s.mu.Unlock()
	}
	s.logger.Info("serving", zap.String("name", s.name), zap.String("addr", listener.Addr().String()),
		zap.Stringer("codec", s.codecType))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener, which fails Accept.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.attach(transport.NewFramedConn(conn, s.codecType))
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it as a peer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.attach(transport.NewWebSocketConn(ws, s.codecType))
}

// attach starts a session for a new peer and returns its endpoint id.
func (s *Server) attach(conn transport.Conn) string {
	id := uuid.NewString()

	// Held across NewSession so a request arriving at once still finds the session.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = transport.NewSession(id, conn, peerHandler{s}, s.heartbeat, s.logger)
	s.logger.Info("peer connected", zap.String("endpoint", id), zap.String("remote", conn.RemoteAddr()))
	return id
}

// peerHandler receives the messages of every peer session.
type peerHandler struct{ s *Server }

func (h peerHandler) HandleMessage(endpointID string, data []byte) {
	h.s.handleMessage(endpointID, data)
}

func (h peerHandler) HandleDisconnect(endpointID string, err error) {
	s := h.s
	s.mu.Lock()
	delete(s.sessions, endpointID)
	inbound := s.inbound
	s.mu.Unlock()

	s.logger.Info("peer disconnected", zap.String("endpoint", endpointID), zap.Error(err))
	if inbound != nil {
		inbound.HandleDisconnect(endpointID, err)
	}
}

func (s *Server) handleMessage(endpointID string, data []byte) {
	env, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("discarding undecodable message", zap.String("endpoint", endpointID), zap.Error(err))
		return
	}

	if env.Kind() == message.KindResponse {
		s.mu.Lock()
		inbound := s.inbound
		s.mu.Unlock()
		if inbound == nil {
			s.logger.Warn("dropped response, no caller on this server", zap.String("endpoint", endpointID), zap.String("id", env.ID))
			return
		}
		inbound.HandleMessage(endpointID, data)
		return
	}

	// The flag and wg.Add share s.mu with Shutdown, so no Add can follow its Wait.
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		s.refuse(endpointID, env)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	// A slow handler must not hold up the next message on the same connection.
	go s.handleRequest(endpointID, env)
}

// refuse answers a request that arrived after Shutdown began. Notifications are dropped.
func (s *Server) refuse(endpointID string, req *message.Envelope) {
	if req.Kind() != message.KindRequest {
		return
	}
	data, err := s.codec.Encode(message.NewErrorResponse(req.ID, message.NewError(message.CodeServerError, "server is shutting down")))
	if err != nil {
		s.logger.Error("encode response", zap.String("endpoint", endpointID), zap.String("id", req.ID), zap.Error(err))
		return
	}
	if err := s.Transmit(context.Background(), endpointID, data); err != nil {
		s.logger.Warn("write response", zap.String("endpoint", endpointID), zap.String("id", req.ID), zap.Error(err))
	}
}

func (s *Server) handleRequest(endpointID string, req *message.Envelope) {
	defer s.wg.Done()

	ctx := jsonrpc.WithEndpoint(context.Background(), endpointID)
	resp := s.chain()(ctx, req)
	if resp == nil {
		return
	}

	data, err := s.codec.Encode(resp)
	if err != nil {
		s.logger.Error("encode response", zap.String("endpoint", endpointID), zap.String("id", req.ID), zap.Error(err))
		return
	}
	if err := s.Transmit(ctx, endpointID, data); err != nil {
		s.logger.Warn("write response", zap.String("endpoint", endpointID), zap.String("id", req.ID), zap.Error(err))
	}
}

// Transmit sends data to a connected peer.
func (s *Server) Transmit(ctx context.Context, endpointID string, data []byte) error {
	s.mu.Lock()
	sess, ok := s.sessions[endpointID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not connected", transport.ErrUnknownEndpoint, endpointID)
	}
	return sess.Send(ctx, data)
}

// Endpoints returns the ids of the connected peers, sorted.
func (s *Server) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so callers stop resolving this server
//  2. Close the listeners
//  3. Wait for in-flight requests to finish, at most timeout
//  4. Close every peer session
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set before closing the listeners so Serve recognises the Accept error, and under
	// s.mu so handleMessage never starts a request after wg.Wait below.
	s.mu.Lock()
	s.shutdown.Store(true)
	reg, addr, listeners := s.registry, s.advertiseAddr, s.listeners
	s.listeners = nil
	s.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(s.name, addr); err != nil {
			s.logger.Warn("deregister", zap.String("name", s.name), zap.Error(err))
		}
	}
	for _, l := range listeners {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	s.mu.Lock()
	sessions := make([]*transport.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
	return err
}
