// Package protocol implements the frame format used on stream connections.
//
// TCP is a byte stream, so each envelope travels in a frame: a fixed 10-byte header
// followed by a variable-length body. The receiver reads the header first to learn the
// body length, then reads exactly that many bytes. Correlation is not a frame concern:
// request ids live inside the envelope.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ mjr  │02│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "mjr" (mini-jsonrpc).
// Used to reject non-protocol connections early (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x6a // 'j'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x02
	HeaderSize  int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation a peer can force with a single header.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType separates envelopes from connection upkeep. Frames never look inside the body.
type MsgType byte

const (
	MsgTypeEnvelope  MsgType = 0 // Encoded envelope
	MsgTypeHeartbeat MsgType = 1 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON    byte = 0
	CodecTypeBinary  byte = 1
	CodecTypeMsgpack byte = 2
)

// Header represents the fixed 10-byte frame header.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=Binary, 2=Msgpack
	MsgType   MsgType // Envelope or Heartbeat
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w in a single Write call.
// The caller must still hold a write lock if multiple goroutines share the same writer.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("body length %d does not match header %d", len(body), h.BodyLen)
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("body length %d exceeds limit %d", h.BodyLen, MaxBodyLen)
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	// Body length: 4 bytes, big-endian (network byte order)
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] > CodecTypeMsgpack {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds limit %d", bodyLen, MaxBodyLen)
	}

	// Read exactly bodyLen bytes
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		BodyLen:   bodyLen,
	}, body, nil
}
