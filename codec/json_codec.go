package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mini-jsonrpc/message"
)

// JSONCodec renders envelopes as the canonical JSON-RPC text.
// Raw params and results are copied through untouched apart from whitespace compaction;
// HTML characters are not escaped, so decoding and re-encoding keeps the text.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (c *JSONCodec) Decode(data []byte) (*message.Envelope, error) {
	env := &message.Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return validated(env, CodecTypeJSON)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
