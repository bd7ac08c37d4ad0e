package chunk

import (
	"fmt"

	"github.com/andreyvit/worldhist"
	"github.com/klauspost/compress/zstd"
)

// Codec serializes chunks for disk-backed revision logs: msgpack, then zstd.
// Decoded chunks get the shared palettes attached.
type Codec struct {
	inner    *worldhist.ValueCodec[*Chunk]
	palettes *Palettes
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec returns a codec compressing at the given zstd level (1..4, 0 means
// the zstd default).
func NewCodec(palettes *Palettes, level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	if level != 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Codec{
		inner:    worldhist.MsgpackCodec(func() *Chunk { return &Chunk{} }),
		palettes: palettes,
		enc:      enc,
		dec:      dec,
	}, nil
}

func (c *Codec) Encode(buf []byte, ch *Chunk) []byte {
	raw := c.inner.Encode(nil, ch)
	return c.enc.EncodeAll(raw, buf)
}

func (c *Codec) Decode(data []byte) (*Chunk, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	ch, err := c.inner.Decode(raw)
	if err != nil {
		return nil, err
	}
	c.palettes.Attach(ch)
	return ch, nil
}

func (c *Codec) Close() {
	c.dec.Close()
	c.enc.Close()
}

var _ worldhist.Codec[*Chunk] = (*Codec)(nil)
