package volume

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

// sliceBackend allocates and releases the memory behind a slicedVolume.
type sliceBackend interface {
	// grow returns slice number index, backing bytes [index*size, (index+1)*size).
	grow(index int, size int64) ([]byte, error)
	sync(slices [][]byte) error
	// shrink releases dropped slices; newLength is the remaining byte length.
	shrink(dropped [][]byte, newLength int64) error
	close(slices [][]byte) error
}

// slicedVolume implements Volume over a table of equally sized byte slices.
// The table is replaced copy-on-write under growMu, so readers never lock:
// a slice, once published, keeps its address until Truncate or Close.
type slicedVolume struct {
	path     string
	shift    uint
	size     int64
	mask     int64
	readOnly bool
	// limit caps readable bytes below the slice table length; zero means no cap.
	limit int64

	slices  atomic.Pointer[[][]byte]
	growMu  sync.Mutex
	closed  atomic.Bool
	backend sliceBackend
}

func newSlicedVolume(path string, opts Options, backend sliceBackend) *slicedVolume {
	v := &slicedVolume{
		path:     path,
		shift:    opts.SliceShift,
		size:     1 << opts.SliceShift,
		mask:     1<<opts.SliceShift - 1,
		readOnly: opts.ReadOnly,
		backend:  backend,
	}
	empty := [][]byte{}
	v.slices.Store(&empty)
	return v
}

func (v *slicedVolume) table() [][]byte { return *v.slices.Load() }

// at returns the n-byte window at offset inside a single slice.
func (v *slicedVolume) at(op string, offset int64, n int) ([]byte, error) {
	if v.closed.Load() {
		return nil, core.ErrClosed
	}
	s := v.table()
	idx := offset >> v.shift
	if offset < 0 || idx >= int64(len(s)) || (v.limit > 0 && offset+int64(n) > v.limit) {
		return nil, core.NewVolumeError(op, v.path, fmt.Errorf("%w: offset %d, length %d", errBeyondLength, offset, v.Length()))
	}
	pos := offset & v.mask
	if pos+int64(n) > v.size {
		return nil, core.NewVolumeError(op, v.path, fmt.Errorf("%w: offset %d size %d", ErrCrossesSlice, offset, n))
	}
	return s[idx][pos : pos+int64(n)], nil
}

func (v *slicedVolume) writable(op string, offset int64, n int) ([]byte, error) {
	if v.readOnly {
		return nil, core.WrongConfigf("%s on read-only volume %s", op, v.path)
	}
	return v.at(op, offset, n)
}

func (v *slicedVolume) EnsureAvailable(offset int64) error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if offset <= v.Length() {
		return nil
	}
	if v.readOnly {
		return core.WrongConfigf("cannot grow read-only volume %s to %d", v.path, offset)
	}
	v.growMu.Lock()
	defer v.growMu.Unlock()
	cur := v.table()
	want := int((offset + v.size - 1) >> v.shift)
	if want <= len(cur) {
		return nil
	}
	next := make([][]byte, len(cur), want)
	copy(next, cur)
	for i := len(cur); i < want; i++ {
		b, err := v.backend.grow(i, v.size)
		if err != nil {
			if len(next) > len(cur) {
				v.slices.Store(&next)
			}
			return core.NewVolumeError("grow", v.path, err)
		}
		next = append(next, b)
	}
	v.slices.Store(&next)
	return nil
}

func (v *slicedVolume) Truncate(size int64) error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if v.readOnly {
		return core.WrongConfigf("truncate of read-only volume %s", v.path)
	}
	v.growMu.Lock()
	cur := v.table()
	keep := int((size + v.size - 1) >> v.shift)
	if keep >= len(cur) {
		v.growMu.Unlock()
		return v.EnsureAvailable(size)
	}
	defer v.growMu.Unlock()
	next := append([][]byte(nil), cur[:keep]...)
	v.slices.Store(&next)
	return core.NewVolumeError("truncate", v.path, v.backend.shrink(cur[keep:], int64(keep)<<v.shift))
}

func (v *slicedVolume) PutLong(offset int64, val uint64) error {
	b, err := v.writable("putLong", offset, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, val)
	return nil
}

func (v *slicedVolume) GetLong(offset int64) (uint64, error) {
	b, err := v.at("getLong", offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (v *slicedVolume) PutInt(offset int64, val uint32) error {
	b, err := v.writable("putInt", offset, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, val)
	return nil
}

func (v *slicedVolume) GetInt(offset int64) (uint32, error) {
	b, err := v.at("getInt", offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (v *slicedVolume) PutUnsignedShort(offset int64, val uint16) error {
	b, err := v.writable("putShort", offset, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, val)
	return nil
}

func (v *slicedVolume) GetUnsignedShort(offset int64) (uint16, error) {
	b, err := v.at("getShort", offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (v *slicedVolume) PutByte(offset int64, val byte) error {
	b, err := v.writable("putByte", offset, 1)
	if err != nil {
		return err
	}
	b[0] = val
	return nil
}

func (v *slicedVolume) GetByte(offset int64) (byte, error) {
	b, err := v.at("getByte", offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (v *slicedVolume) PutData(offset int64, src []byte) error {
	b, err := v.writable("putData", offset, len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (v *slicedVolume) GetData(offset int64, dst []byte) error {
	b, err := v.at("getData", offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (v *slicedVolume) PutPackedLong(offset int64, val uint64) (int, error) {
	b, err := v.writable("putPackedLong", offset, codec.PackedLen(val))
	if err != nil {
		return 0, err
	}
	return codec.PutPackedLong(b, val), nil
}

func (v *slicedVolume) GetPackedLong(offset int64) (uint64, int, error) {
	n := int(min(int64(codec.MaxPackedLen), v.size-offset&v.mask))
	if v.limit > 0 {
		n = int(min(int64(n), v.limit-offset))
	}
	b, err := v.at("getPackedLong", offset, max(n, 1))
	if err != nil {
		return 0, 0, err
	}
	val, used := codec.GetPackedLong(b)
	if used == 0 {
		return 0, 0, core.NewCorruptionError("packed long", offset, "unterminated packed value")
	}
	return val, used, nil
}

func (v *slicedVolume) Clear(start, end int64) error {
	for start < end {
		n := min(v.size-start&v.mask, end-start)
		b, err := v.writable("clear", start, int(n))
		if err != nil {
			return err
		}
		clear(b)
		start += n
	}
	return nil
}

func (v *slicedVolume) TransferInto(offset int64, target Volume, targetOffset, size int64) error {
	return transferCopy(v, offset, target, targetOffset, size)
}

func (v *slicedVolume) Sync() error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if v.readOnly {
		return nil
	}
	return core.NewVolumeError("sync", v.path, v.backend.sync(v.table()))
}

func (v *slicedVolume) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	v.growMu.Lock()
	defer v.growMu.Unlock()
	s := v.table()
	empty := [][]byte{}
	v.slices.Store(&empty)
	return core.NewVolumeError("close", v.path, v.backend.close(s))
}

func (v *slicedVolume) Length() int64 {
	l := int64(len(v.table())) << v.shift
	if v.limit > 0 && v.limit < l {
		return v.limit
	}
	return l
}

func (v *slicedVolume) IsSliced() bool   { return true }
func (v *slicedVolume) SliceSize() int   { return int(v.size) }
func (v *slicedVolume) IsReadOnly() bool { return v.readOnly }
func (v *slicedVolume) Path() string     { return v.path }
