package compressors

import "github.com/INLOpen/recstore/core"

// NoCompressionCompressor never compresses.
type NoCompressionCompressor struct{}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress([]byte) ([]byte, error) { return nil, nil }

func (c *NoCompressionCompressor) Decompress(data []byte, size int) ([]byte, error) {
	if err := checkSize("none", len(data), size); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType { return core.CompressionNone }
