// Package volume provides growable byte-addressed storage. A Volume is split
// into fixed-size slices so that no single allocation or mapping has to hold
// the whole store, and growth never moves bytes that readers already see.
package volume

import (
	"errors"
	"log/slog"
)

// Volume is the storage contract shared by every backend. Offsets are
// absolute; multi-byte values are big-endian. Put and get of fixed-width
// values and of byte ranges must not cross a slice boundary; use
// PutDataOverlap and GetDataOverlap for ranges that may.
type Volume interface {
	// EnsureAvailable grows the volume so that [0, offset) is writable. It is
	// safe to call concurrently with reads below the current length.
	EnsureAvailable(offset int64) error
	// Truncate shrinks or grows the volume to hold size bytes, rounded up
	// to whole slices. Callers must hold exclusive access.
	Truncate(size int64) error

	PutLong(offset int64, v uint64) error
	GetLong(offset int64) (uint64, error)
	PutInt(offset int64, v uint32) error
	GetInt(offset int64) (uint32, error)
	PutUnsignedShort(offset int64, v uint16) error
	GetUnsignedShort(offset int64) (uint16, error)
	PutByte(offset int64, v byte) error
	GetByte(offset int64) (byte, error)
	PutData(offset int64, src []byte) error
	GetData(offset int64, dst []byte) error
	// PutPackedLong writes v in packed form and returns the bytes used.
	PutPackedLong(offset int64, v uint64) (int, error)
	// GetPackedLong returns the value and the bytes consumed.
	GetPackedLong(offset int64) (uint64, int, error)

	// Clear zero-fills [start, end), crossing slices as needed.
	Clear(start, end int64) error
	// TransferInto copies size bytes at offset into target at targetOffset.
	TransferInto(offset int64, target Volume, targetOffset, size int64) error

	Sync() error
	Close() error

	Length() int64
	IsSliced() bool
	SliceSize() int
	IsReadOnly() bool
	Path() string
}

var (
	// ErrCrossesSlice reports a fixed-width access that straddles a slice
	// boundary. It is a caller bug, not corruption.
	ErrCrossesSlice = errors.New("access crosses a volume slice boundary")
	errBeyondLength = errors.New("access beyond volume length")
)

const (
	// DefaultSliceShift gives 1 MiB slices.
	DefaultSliceShift = 20
	MinSliceShift     = 10
	MaxSliceShift     = 30

	transferBufferSize = 64 * 1024
)

// Options configures a backend.
type Options struct {
	// SliceShift is log2 of the slice size.
	SliceShift uint
	ReadOnly   bool
	// Preallocate reserves disk blocks when a file volume grows.
	Preallocate bool
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SliceShift == 0 {
		o.SliceShift = DefaultSliceShift
	}
	if o.SliceShift < MinSliceShift {
		o.SliceShift = MinSliceShift
	}
	if o.SliceShift > MaxSliceShift {
		o.SliceShift = MaxSliceShift
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// PutDataOverlap writes src at offset, splitting it where it crosses slices.
func PutDataOverlap(v Volume, offset int64, src []byte) error {
	if !v.IsSliced() {
		return v.PutData(offset, src)
	}
	ss := int64(v.SliceSize())
	for len(src) > 0 {
		n := min(ss-offset%ss, int64(len(src)))
		if err := v.PutData(offset, src[:n]); err != nil {
			return err
		}
		offset += n
		src = src[n:]
	}
	return nil
}

// GetDataOverlap fills dst from offset, stitching reads across slices.
func GetDataOverlap(v Volume, offset int64, dst []byte) error {
	if !v.IsSliced() {
		return v.GetData(offset, dst)
	}
	ss := int64(v.SliceSize())
	for len(dst) > 0 {
		n := min(ss-offset%ss, int64(len(dst)))
		if err := v.GetData(offset, dst[:n]); err != nil {
			return err
		}
		offset += n
		dst = dst[n:]
	}
	return nil
}

// transferCopy is the generic TransferInto: bounded buffer, overlap aware.
func transferCopy(src Volume, offset int64, target Volume, targetOffset, size int64) error {
	if err := target.EnsureAvailable(targetOffset + size); err != nil {
		return err
	}
	buf := make([]byte, min(size, transferBufferSize))
	for size > 0 {
		n := min(size, int64(len(buf)))
		if err := GetDataOverlap(src, offset, buf[:n]); err != nil {
			return err
		}
		if err := PutDataOverlap(target, targetOffset, buf[:n]); err != nil {
			return err
		}
		offset += n
		targetOffset += n
		size -= n
	}
	return nil
}
