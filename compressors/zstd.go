package compressors

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/recstore/core"
)

// ZstdCompressor implements core.Compressor with pooled zstd encoders and
// decoders; both are safe for EncodeAll/DecodeAll reuse.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		encoderPool: sync.Pool{
			New: func() interface{} {
				enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
				if err != nil {
					slog.Default().Error("Error creating zstd encoder", "component", "ZstdCompressor", "error", err)
					return nil
				}
				return enc
			},
		},
		decoderPool: sync.Pool{
			New: func() interface{} {
				dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(64*1024*1024))
				if err != nil {
					slog.Default().Error("Error creating zstd decoder", "component", "ZstdCompressor", "error", err)
					return nil
				}
				return dec
			},
		},
	}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, ok := c.encoderPool.Get().(*zstd.Encoder)
	if !ok {
		return nil, fmt.Errorf("zstd encoder unavailable")
	}
	defer c.encoderPool.Put(enc)
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	out := enc.EncodeAll(data, buf.AvailableBuffer())
	return bytes.Clone(worthIt(out, data)), nil
}

func (c *ZstdCompressor) Decompress(data []byte, size int) ([]byte, error) {
	dec, ok := c.decoderPool.Get().(*zstd.Decoder)
	if !ok {
		return nil, fmt.Errorf("zstd decoder unavailable")
	}
	defer c.decoderPool.Put(dec)
	out, err := dec.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, decompressError("zstd", err)
	}
	if err := checkSize("zstd", len(out), size); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
