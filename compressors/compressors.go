// Package compressors implements core.Compressor for the record compression
// feature.
package compressors

import (
	"fmt"

	"github.com/INLOpen/recstore/core"
)

// New returns the compressor for ct.
func New(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	}
	return nil, core.WrongConfigf("unsupported compression type %d", ct)
}

// worthIt keeps compressed output only when it saves space.
func worthIt(compressed, src []byte) []byte {
	if len(compressed) >= len(src) {
		return nil
	}
	return compressed
}

func checkSize(name string, got, want int) error {
	if got != want {
		return core.NewCorruptionError(name+" decompress", -1, "expanded to %d bytes, want %d", got, want)
	}
	return nil
}

func decompressError(name string, err error) error {
	return fmt.Errorf("%w: %s decompress: %v", core.ErrDataCorruption, name, err)
}
