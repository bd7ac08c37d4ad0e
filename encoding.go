package worldhist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes revisions for disk-backed revision logs.
//
// Encode panics on failure, like every other encoder in this package; the
// panic is converted to an error at the undo-point boundary for that key.
type Codec[V any] interface {
	Encode(buf []byte, v V) []byte
	Decode(data []byte) (V, error)
}

type encodingMethod int

const (
	MsgPack encodingMethod = iota
	JSON
)

func (enc encodingMethod) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("encoding(%d)", int(enc))
	}
}

// ValueCodec encodes values of type V (usually a pointer to a struct) using
// the given method.
type ValueCodec[V any] struct {
	Method encodingMethod
	New    func() V
}

// MsgpackCodec returns a codec that stores values as msgpack. newValue must
// return a fresh value to decode into.
func MsgpackCodec[V any](newValue func() V) *ValueCodec[V] {
	return &ValueCodec[V]{Method: MsgPack, New: newValue}
}

func (c *ValueCodec[V]) Encode(buf []byte, v V) []byte {
	switch c.Method {
	case MsgPack:
		bb := bytesBuilder{buf}
		enc := msgpack.GetEncoder()
		enc.Reset(&bb)
		enc.SetSortMapKeys(true)
		err := enc.Encode(v)
		msgpack.PutEncoder(enc)
		if err != nil {
			panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
		}
		return bb.Buf
	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Errorf("failed to encode %T to JSON: %w", v, err))
		}
		return append(buf, raw...)
	default:
		panic("unsupported encoding")
	}
}

func (c *ValueCodec[V]) Decode(data []byte) (V, error) {
	v := c.New()
	switch c.Method {
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		dec := msgpack.GetDecoder()
		dec.Reset(&r)
		err := dec.Decode(v)
		msgpack.PutDecoder(dec)
		if err != nil {
			var zero V
			return zero, dataErrf(data, "", err, "failed to decode msgpack into %T", v)
		}
		return v, nil
	case JSON:
		err := json.Unmarshal(data, v)
		if err != nil {
			var zero V
			return zero, dataErrf(data, "", err, "failed to decode JSON into %T", v)
		}
		return v, nil
	default:
		panic("unsupported encoding")
	}
}

type bytesBuilder struct {
	Buf []byte
}

func (bb *bytesBuilder) Write(p []byte) (int, error) {
	bb.Buf = append(bb.Buf, p...)
	return len(p), nil
}

func (bb *bytesBuilder) WriteByte(c byte) error {
	bb.Buf = append(bb.Buf, c)
	return nil
}

func (bb *bytesBuilder) WriteString(s string) (int, error) {
	bb.Buf = append(bb.Buf, s...)
	return len(s), nil
}
