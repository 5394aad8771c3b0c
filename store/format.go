package store

import (
	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

// Store file layout. Offsets are bytes from the start of the main volume.
const (
	// PageSize is the allocation unit of the store file.
	PageSize int64 = 1 << 20

	headerMagicOffset      int64 = 0 // u32 magic+version
	headerChecksumOffset   int64 = 4 // u32 sum of header word hashes
	headerFeaturesOffset   int64 = 8
	headerStoreSizeOffset  int64 = 16 // parity16
	headerMaxRecidOffset   int64 = 24 // parity1 of maxRecid<<3
	headerCursorOffset     int64 = 32 // parity3
	headerIndexPagesOffset int64 = 40 // parity16 of count<<16
	headerFreeRecidMaster  int64 = 48
	headerMastersOffset    int64 = 64 // one long-stack master per size class

	// MaxRecSize is the largest single fragment, link prefix included.
	MaxRecSize  = 65520
	sizeClasses = MaxRecSize / 16

	// HeadEnd is the end of the header region.
	HeadEnd = headerMastersOffset + sizeClasses*8

	// IndexPageZero is the first index page, sharing page 0 with the header.
	IndexPageZero = (HeadEnd + 15) &^ 15

	indexPageHeader = 16 // next-page pointer, checksum slot
	slotsPage0      = (PageSize - IndexPageZero - indexPageHeader) / 8
	slotsPerPage    = (PageSize - indexPageHeader) / 8

	// RecidLastReserved is the highest recid preallocated for bootstrap use.
	RecidLastReserved core.Recid = 8

	linkSize          = 8
	longStackPageSize = 512
	longStackHeader   = 8
)

// Index value layout: size(16) | offset(44, 16-aligned) | linked | unused | archive | parity.
const (
	flagArchive uint64 = 1 << 1
	flagUnused  uint64 = 1 << 2
	flagLinked  uint64 = 1 << 3
	flagsMask          = flagArchive | flagUnused | flagLinked

	offsetMask uint64 = 0x0000_FFFF_FFFF_FFF0
)

// indexEntry is a decoded index value or fragment link.
type indexEntry struct {
	size   int
	offset int64
	flags  uint64
}

func (e indexEntry) linked() bool  { return e.flags&flagLinked != 0 }
func (e indexEntry) unused() bool  { return e.flags&flagUnused != 0 }
func (e indexEntry) archive() bool { return e.flags&flagArchive != 0 }
func (e indexEntry) null() bool    { return e.size == 0 && e.linked() }

func (e indexEntry) encode() uint64 {
	return codec.Parity1Set(uint64(e.size)<<48 | uint64(e.offset)&offsetMask | e.flags&flagsMask)
}

// decodeIndex validates parity. A raw zero word means the slot was never
// written.
func decodeIndex(v uint64, at int64) (indexEntry, error) {
	raw, err := codec.Parity1Get(v)
	if err != nil {
		return indexEntry{}, core.NewCorruptionError("index value", at, "parity mismatch in %#016x", v)
	}
	return indexEntry{size: int(raw >> 48), offset: int64(raw & offsetMask), flags: raw & flagsMask}, nil
}

var (
	tombstone = indexEntry{flags: flagUnused}.encode()
	nullValue = indexEntry{flags: flagLinked | flagArchive}.encode()
)

func masterOffset(size int64) int64 {
	return headerMastersOffset + (size/16-1)*8
}

func roundUpPage(off int64) int64 {
	return (off + PageSize - 1) &^ (PageSize - 1)
}
