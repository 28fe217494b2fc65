package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"mini-jsonrpc/message"
)

// BinaryCodec lays the envelope out as length-prefixed fields, big-endian:
//
//	id      u16 len + bytes
//	method  u16 len + bytes
//	params  u32 len + bytes (JSON)
//	result  u32 len + bytes (JSON)
//	error   u8 flag, then i32 code + u16 len + message bytes when the flag is 1
type BinaryCodec struct{}

var errShortBuffer = errors.New("binary codec: truncated envelope")

func (c *BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("binary codec: %w", err)
	}
	if len(env.ID) > 0xFFFF || len(env.Method) > 0xFFFF {
		return nil, fmt.Errorf("binary codec: id or method longer than %d bytes", 0xFFFF)
	}

	// Calculate the encoded length up front
	total := 2 + len(env.ID) + 2 + len(env.Method) + 4 + len(env.Params) + 4 + len(env.Result) + 1
	if env.Error != nil {
		if len(env.Error.Message) > 0xFFFF {
			return nil, fmt.Errorf("binary codec: error message longer than %d bytes", 0xFFFF)
		}
		total += 4 + 2 + len(env.Error.Message)
	}
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.ID)))
	buf = append(buf, env.ID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Method)))
	buf = append(buf, env.Method...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Params)))
	buf = append(buf, env.Params...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Result)))
	buf = append(buf, env.Result...)

	if env.Error == nil {
		return append(buf, 0), nil
	}
	buf = append(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(int32(env.Error.Code)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Error.Message)))
	buf = append(buf, env.Error.Message...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (*message.Envelope, error) {
	r := reader{data: data}
	env := &message.Envelope{
		ID:     string(r.next(int(r.uint16()))),
		Method: string(r.next(int(r.uint16()))),
		Params: r.raw(int(r.uint32())),
		Result: r.raw(int(r.uint32())),
	}
	if flag := r.next(1); len(flag) == 1 && flag[0] == 1 {
		code := int32(r.uint32())
		msg := string(r.next(int(r.uint16())))
		env.Error = &message.Error{Code: int(code), Message: msg}
	}
	if r.short {
		return nil, errShortBuffer
	}
	return validated(env, CodecTypeBinary)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks the buffer and remembers whether it ran past the end.
type reader struct {
	data  []byte
	off   int
	short bool
}

func (r *reader) next(n int) []byte {
	if r.short || n > len(r.data)-r.off {
		r.short = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// raw copies n bytes, returning nil for an empty field.
func (r *reader) raw(n int) []byte {
	b := r.next(n)
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
