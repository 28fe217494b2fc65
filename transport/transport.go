// Package transport moves encoded envelopes between endpoints. It never looks inside a
// message: correlation belongs to the jsonrpc package, encoding to the codec package.
//
//	caller ──Transmit(ep-1, bytes)──► EndpointTransmitter ──► Session(ep-1) ──► Conn ──► peer
//	                                        │ resolve ep-1 via Registry + Balancer, dial once
//	peer ──► Conn ──► Session.recvLoop ──► InboundHandler.HandleMessage(ep-1, bytes)
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when sending on a closed session or transmitter.
	ErrClosed = errors.New("transport closed")
	// ErrUnknownEndpoint is returned when an endpoint cannot be resolved or is not connected.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// Transmitter delivers wire bytes to a named endpoint.
type Transmitter interface {
	Transmit(ctx context.Context, endpointID string, data []byte) error
}

// InboundHandler receives every message read from an endpoint and learns when the
// endpoint's connection is gone.
type InboundHandler interface {
	HandleMessage(endpointID string, data []byte)
	HandleDisconnect(endpointID string, err error)
}

// Receiver is implemented by transports that deliver inbound messages.
type Receiver interface {
	SetInboundHandler(h InboundHandler)
}

// InboundFuncs adapts plain functions to InboundHandler. Nil fields are ignored.
type InboundFuncs struct {
	Message    func(endpointID string, data []byte)
	Disconnect func(endpointID string, err error)
}

func (f InboundFuncs) HandleMessage(endpointID string, data []byte) {
	if f.Message != nil {
		f.Message(endpointID, data)
	}
}

func (f InboundFuncs) HandleDisconnect(endpointID string, err error) {
	if f.Disconnect != nil {
		f.Disconnect(endpointID, err)
	}
}

// TransmitFunc adapts a function to Transmitter.
type TransmitFunc func(ctx context.Context, endpointID string, data []byte) error

func (f TransmitFunc) Transmit(ctx context.Context, endpointID string, data []byte) error {
	return f(ctx, endpointID, data)
}
