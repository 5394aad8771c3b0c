package compressors

import (
	"github.com/golang/snappy"

	"github.com/INLOpen/recstore/core"
)

// SnappyCompressor implements core.Compressor using the snappy block format.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return worthIt(snappy.Encode(nil, data), data), nil
}

func (c *SnappyCompressor) Decompress(data []byte, size int) ([]byte, error) {
	if n, err := snappy.DecodedLen(data); err != nil {
		return nil, decompressError("snappy", err)
	} else if err := checkSize("snappy", n, size); err != nil {
		return nil, err
	}
	out, err := snappy.Decode(make([]byte, size), data)
	if err != nil {
		return nil, decompressError("snappy", err)
	}
	return out, nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}
