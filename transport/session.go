package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session owns one connection to an endpoint. Any number of goroutines may Send on it
// concurrently; a single background goroutine (recvLoop) reads every inbound message and
// hands it to the InboundHandler, where responses find their pending calls by id.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ single conn ──→ peer
//	goroutine-3 ──Send(id=3)──┘
//
//	recvLoop:  ←── {"id":"2",...} → handler.HandleMessage(endpoint, bytes)
type Session struct {
	endpointID string
	conn       Conn
	handler    InboundHandler
	logger     *zap.Logger

	sending sync.Mutex // Whole messages only: concurrent writes would interleave frames

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// NewSession starts the receive loop and, for a positive interval, the heartbeat loop.
func NewSession(endpointID string, conn Conn, handler InboundHandler, heartbeat time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		handler = InboundFuncs{}
	}
	s := &Session{
		endpointID: endpointID,
		conn:       conn,
		handler:    handler,
		logger:     logger.With(zap.String("endpoint", endpointID), zap.String("remote", conn.RemoteAddr())),
		done:       make(chan struct{}),
	}
	go s.recvLoop()
	if heartbeat > 0 {
		go s.heartbeatLoop(heartbeat)
	}
	return s
}

func (s *Session) EndpointID() string { return s.endpointID }

// Send writes one message. A deadline on ctx bounds the write.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return fmt.Errorf("send to %s: %w", s.endpointID, ErrClosed)
	default:
	}

	s.sending.Lock()
	err := s.write(ctx, data)
	s.sending.Unlock()
	if err != nil {
		s.close(err)
		return fmt.Errorf("send to %s: %w", s.endpointID, err)
	}
	return nil
}

func (s *Session) write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteMessage(data)
}

// recvLoop runs in a dedicated goroutine. Reads must be sequential to keep message
// boundaries intact, so there is exactly one reader per connection.
func (s *Session) recvLoop() {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			s.close(err)
			return
		}
		s.handler.HandleMessage(s.endpointID, data)
	}
}

// heartbeatLoop keeps idle connections alive and detects dead ones.
func (s *Session) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sending.Lock()
			err := s.conn.Ping()
			s.sending.Unlock()
			if err != nil {
				s.close(err)
				return
			}
		}
	}
}

// Close shuts the connection down. The handler is told about the disconnect once.
func (s *Session) Close() error {
	s.close(ErrClosed)
	return nil
}

func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		s.conn.Close()
		s.logger.Debug("session closed", zap.Error(err))
		s.handler.HandleDisconnect(s.endpointID, err)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
