package codec

import (
	"fmt"
	"mini-jsonrpc/message"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec renders envelopes as msgpack maps. Params and results stay JSON bytes
// inside a msgpack bin field, so result decoding is identical across codecs.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(env *message.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("msgpack codec: %w", err)
	}
	return msgpack.Marshal(env)
}

func (c *MsgpackCodec) Decode(data []byte) (*message.Envelope, error) {
	env := &message.Envelope{}
	if err := msgpack.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("msgpack codec: %w", err)
	}
	return validated(env, CodecTypeMsgpack)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
