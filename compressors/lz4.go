package compressors

import (
	"bytes"
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/INLOpen/recstore/core"
)

// LZ4Compressor implements core.Compressor using LZ4 blocks. The block format
// does not record the original size; the record header carries it.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	buf.Grow(lz4.CompressBlockBound(len(data)))
	dst := buf.AvailableBuffer()[:lz4.CompressBlockBound(len(data))]
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	// n == 0 means the block is incompressible.
	if n == 0 {
		return nil, nil
	}
	return bytes.Clone(worthIt(dst[:n], data)), nil
}

func (c *LZ4Compressor) Decompress(data []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, decompressError("lz4", err)
	}
	if err := checkSize("lz4", n, size); err != nil {
		return nil, err
	}
	return dst, nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
