package transport

import (
	"context"
	"fmt"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/protocol"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-oriented duplex connection. ReadMessage is called from a single
// goroutine; WriteMessage and Ping are serialized by the owning Session.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// DialFunc opens a Conn to addr.
type DialFunc func(ctx context.Context, addr string) (Conn, error)

// framedConn carries messages as protocol frames over a byte stream.
type framedConn struct {
	conn      net.Conn
	codecType byte
}

// NewFramedConn wraps a stream connection. codecType is written into every frame header.
func NewFramedConn(conn net.Conn, codecType codec.CodecType) Conn {
	return &framedConn{conn: conn, codecType: byte(codecType)}
}

// ReadMessage returns the body of the next envelope frame, skipping heartbeats.
func (c *framedConn) ReadMessage() ([]byte, error) {
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			return nil, err
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		return body, nil
	}
}

func (c *framedConn) WriteMessage(data []byte) error {
	header := &protocol.Header{
		CodecType: c.codecType,
		MsgType:   protocol.MsgTypeEnvelope,
		BodyLen:   uint32(len(data)),
	}
	return protocol.Encode(c.conn, header, data)
}

// Ping writes a heartbeat frame. Heartbeat frames have no body.
func (c *framedConn) Ping() error {
	return protocol.Encode(c.conn, &protocol.Header{CodecType: c.codecType, MsgType: protocol.MsgTypeHeartbeat}, nil)
}

func (c *framedConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *framedConn) RemoteAddr() string                 { return c.conn.RemoteAddr().String() }
func (c *framedConn) Close() error                       { return c.conn.Close() }

// wsConn carries one envelope per WebSocket message.
type wsConn struct {
	ws      *websocket.Conn
	msgType int
}

// NewWebSocketConn wraps a WebSocket connection. Text codecs travel in text messages,
// the others in binary messages.
func NewWebSocketConn(ws *websocket.Conn, codecType codec.CodecType) Conn {
	msgType := websocket.BinaryMessage
	if codecType.IsText() {
		msgType = websocket.TextMessage
	}
	return &wsConn{ws: ws, msgType: msgType}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error { return c.ws.WriteMessage(c.msgType, data) }

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *wsConn) RemoteAddr() string                 { return c.ws.RemoteAddr().String() }
func (c *wsConn) Close() error                       { return c.ws.Close() }

// DialTCP returns a DialFunc for framed TCP connections.
func DialTCP(codecType codec.CodecType) DialFunc {
	return func(ctx context.Context, addr string) (Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewFramedConn(conn, codecType), nil
	}
}

// DialWebSocket returns a DialFunc for WebSocket connections. addr is either a full
// ws:// or wss:// URL or a host:port, which is dialed as ws://host:port/ with path.
func DialWebSocket(codecType codec.CodecType, path string) DialFunc {
	return func(ctx context.Context, addr string) (Conn, error) {
		target := addr
		if u, err := url.Parse(addr); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			target = (&url.URL{Scheme: "ws", Host: addr, Path: path}).String()
		}
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		return NewWebSocketConn(ws, codecType), nil
	}
}
