package core

import (
	"encoding/binary"
	"fmt"
)

// FileHeader is the 4-byte magic+version word at offset 0 of every store and
// WAL file.
type FileHeader struct {
	Magic   uint16
	Version uint16
}

// FileHeaderSize is the encoded size of a FileHeader.
const FileHeaderSize = 4

// NewFileHeader creates a header for the current format version.
func NewFileHeader(magic uint16) FileHeader {
	return FileHeader{Magic: magic, Version: FormatVersion}
}

// Encode packs the header into a big-endian uint32.
func (h FileHeader) Encode() uint32 {
	return uint32(h.Magic)<<16 | uint32(h.Version)
}

// DecodeFileHeader unpacks a header word.
func DecodeFileHeader(v uint32) FileHeader {
	return FileHeader{Magic: uint16(v >> 16), Version: uint16(v)}
}

// Validate checks magic and version against expectations.
func (h FileHeader) Validate(magic uint16) error {
	if h.Magic != magic {
		return fmt.Errorf("%w: invalid magic number: got %x, want %x", ErrDataCorruption, h.Magic, magic)
	}
	if h.Version != FormatVersion {
		return WrongConfigf("unsupported format version %d (this build writes %d)", h.Version, FormatVersion)
	}
	return nil
}

// Bytes returns the header in its on-disk form.
func (h FileHeader) Bytes() []byte {
	b := make([]byte, FileHeaderSize)
	binary.BigEndian.PutUint32(b, h.Encode())
	return b
}
