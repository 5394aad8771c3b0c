package core

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorruptionError(t *testing.T) {
	err := NewCorruptionError("indexValGet", 128, "parity mismatch %x", 0xff)
	assert.True(t, errors.Is(err, ErrDataCorruption))
	assert.True(t, IsCorruption(fmt.Errorf("get recid 3: %w", err)))
	assert.Contains(t, err.Error(), "offset 128")

	noOffset := NewCorruptionError("replay", -1, "bad")
	assert.NotContains(t, noOffset.Error(), "offset")
}

func TestVolumeError(t *testing.T) {
	err := NewVolumeError("read", "/tmp/x", os.ErrPermission)
	assert.True(t, errors.Is(err, ErrVolumeIO))
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Nil(t, NewVolumeError("read", "", nil))

	// kinds pass through untouched
	assert.Equal(t, ErrOutOfBounds, NewVolumeError("read", "", ErrOutOfBounds))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", ErrNotFound)))
	assert.True(t, IsNotFound(ErrVoidAccess))
	assert.False(t, IsNotFound(ErrDataCorruption))
}

func TestFileHeader(t *testing.T) {
	h := NewFileHeader(StoreMagic)
	decoded := DecodeFileHeader(h.Encode())
	require.Equal(t, h, decoded)
	require.NoError(t, decoded.Validate(StoreMagic))
	assert.True(t, errors.Is(decoded.Validate(WALMagic), ErrDataCorruption))

	old := FileHeader{Magic: StoreMagic, Version: FormatVersion + 1}
	assert.True(t, errors.Is(old.Validate(StoreMagic), ErrWrongConfig))
}

func TestFeatures(t *testing.T) {
	f := NewFeatures(CompressionZSTD, true)
	assert.Equal(t, CompressionZSTD, f.Compression())
	assert.True(t, f.Checksum())
	assert.Zero(t, f.Unknown())
	assert.NotZero(t, (f | 1<<40).Unknown())

	ct, err := ParseCompressionType("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, ct)
	_, err = ParseCompressionType("brotli")
	assert.ErrorIs(t, err, ErrWrongConfig)
}

func TestSegmentFileName(t *testing.T) {
	name := FormatSegmentFileName("data.db", 7)
	assert.Equal(t, "data.db.00000007.wal", name)
	idx, err := ParseSegmentFileName("data.db", name)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), idx)

	_, err = ParseSegmentFileName("other.db", name)
	assert.Error(t, err)
	_, err = ParseSegmentFileName("data.db", "data.db.compact")
	assert.Error(t, err)
}
