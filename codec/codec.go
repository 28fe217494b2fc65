// Package codec turns envelopes into wire bytes and back.
//
// Three renderings exist. JSON is the canonical text form and the one sent in text frames;
// binary and msgpack are compact forms for binary frames. All of them validate envelopes
// on decode, so a malformed message never reaches the dispatcher.
package codec

import (
	"fmt"
	"mini-jsonrpc/message"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeBinary  CodecType = 1
	CodecTypeMsgpack CodecType = 2
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeMsgpack:
		return "msgpack"
	}
	return fmt.Sprintf("CodecType(%d)", byte(t))
}

// IsText reports whether the encoding is printable text.
func (t CodecType) IsText() bool { return t == CodecTypeJSON }

// Marshaller encodes an envelope to wire bytes and decodes wire bytes to an envelope.
type Marshaller interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte) (*message.Envelope, error)
	Type() CodecType
}

// GetCodec returns the marshaller for codecType, falling back to JSON for unknown types.
func GetCodec(codecType CodecType) Marshaller {
	switch codecType {
	case CodecTypeBinary:
		return &BinaryCodec{}
	case CodecTypeMsgpack:
		return &MsgpackCodec{}
	}
	return &JSONCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "msgpack":
		return CodecTypeMsgpack, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

func validated(env *message.Envelope, codecType CodecType) (*message.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("%s codec: %w", codecType, err)
	}
	return env, nil
}
