package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/sys"
)

// FileChannel is an unsliced volume doing positioned reads and writes on a
// file handle. The file grows in slice-size steps so it stays interchangeable
// with a mapped volume over the same file.
type FileChannel struct {
	path     string
	file     sys.FileHandle
	readOnly bool
	step     int64
	opts     Options

	length atomic.Int64
	growMu sync.Mutex
	closed atomic.Bool
}

var _ Volume = (*FileChannel)(nil)

// NewFileChannel opens (or creates) path as a file-channel volume.
func NewFileChannel(path string, opts Options) (*FileChannel, error) {
	opts = opts.withDefaults()
	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := sys.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, core.NewVolumeError("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, core.NewVolumeError("stat", path, err)
	}
	v := &FileChannel{path: path, file: f, readOnly: opts.ReadOnly, step: 1 << opts.SliceShift, opts: opts}
	v.length.Store(info.Size())
	return v, nil
}

func (v *FileChannel) check(op string, offset int64, n int, write bool) error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if write && v.readOnly {
		return core.WrongConfigf("%s on read-only volume %s", op, v.path)
	}
	if offset < 0 || offset+int64(n) > v.length.Load() {
		return core.NewVolumeError(op, v.path, fmt.Errorf("%w: offset %d size %d, length %d", errBeyondLength, offset, n, v.length.Load()))
	}
	return nil
}

func (v *FileChannel) readAt(op string, offset int64, dst []byte) error {
	if err := v.check(op, offset, len(dst), false); err != nil {
		return err
	}
	n, err := v.file.ReadAt(dst, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(dst)) {
		return core.NewVolumeError(op, v.path, err)
	}
	return nil
}

func (v *FileChannel) writeAt(op string, offset int64, src []byte) error {
	if err := v.check(op, offset, len(src), true); err != nil {
		return err
	}
	_, err := v.file.WriteAt(src, offset)
	return core.NewVolumeError(op, v.path, err)
}

func (v *FileChannel) EnsureAvailable(offset int64) error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if offset <= v.length.Load() {
		return nil
	}
	if v.readOnly {
		return core.WrongConfigf("cannot grow read-only volume %s to %d", v.path, offset)
	}
	v.growMu.Lock()
	defer v.growMu.Unlock()
	if offset <= v.length.Load() {
		return nil
	}
	size := (offset + v.step - 1) / v.step * v.step
	if err := v.file.Truncate(size); err != nil {
		return core.NewVolumeError("grow", v.path, err)
	}
	if v.opts.Preallocate {
		if err := sys.Preallocate(v.file, size); err != nil && !errors.Is(err, sys.ErrPreallocNotSupported) {
			v.opts.Logger.Warn("Preallocation failed", "component", "Volume", "path", v.path, "error", err)
		}
	}
	v.length.Store(size)
	return nil
}

func (v *FileChannel) Truncate(size int64) error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if v.readOnly {
		return core.WrongConfigf("truncate of read-only volume %s", v.path)
	}
	v.growMu.Lock()
	defer v.growMu.Unlock()
	size = (size + v.step - 1) / v.step * v.step
	if err := v.file.Truncate(size); err != nil {
		return core.NewVolumeError("truncate", v.path, err)
	}
	v.length.Store(size)
	return nil
}

func (v *FileChannel) PutLong(offset int64, val uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], val)
	return v.writeAt("putLong", offset, b[:])
}

func (v *FileChannel) GetLong(offset int64) (uint64, error) {
	var b [8]byte
	if err := v.readAt("getLong", offset, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (v *FileChannel) PutInt(offset int64, val uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], val)
	return v.writeAt("putInt", offset, b[:])
}

func (v *FileChannel) GetInt(offset int64) (uint32, error) {
	var b [4]byte
	if err := v.readAt("getInt", offset, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (v *FileChannel) PutUnsignedShort(offset int64, val uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], val)
	return v.writeAt("putShort", offset, b[:])
}

func (v *FileChannel) GetUnsignedShort(offset int64) (uint16, error) {
	var b [2]byte
	if err := v.readAt("getShort", offset, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (v *FileChannel) PutByte(offset int64, val byte) error {
	return v.writeAt("putByte", offset, []byte{val})
}

func (v *FileChannel) GetByte(offset int64) (byte, error) {
	var b [1]byte
	err := v.readAt("getByte", offset, b[:])
	return b[0], err
}

func (v *FileChannel) PutData(offset int64, src []byte) error {
	return v.writeAt("putData", offset, src)
}

func (v *FileChannel) GetData(offset int64, dst []byte) error {
	return v.readAt("getData", offset, dst)
}

func (v *FileChannel) PutPackedLong(offset int64, val uint64) (int, error) {
	var b [codec.MaxPackedLen]byte
	n := codec.PutPackedLong(b[:], val)
	return n, v.writeAt("putPackedLong", offset, b[:n])
}

func (v *FileChannel) GetPackedLong(offset int64) (uint64, int, error) {
	var b [codec.MaxPackedLen]byte
	n := min(int64(len(b)), v.length.Load()-offset)
	if err := v.readAt("getPackedLong", offset, b[:max(n, 1)]); err != nil {
		return 0, 0, err
	}
	val, used := codec.GetPackedLong(b[:n])
	if used == 0 {
		return 0, 0, core.NewCorruptionError("packed long", offset, "unterminated packed value")
	}
	return val, used, nil
}

func (v *FileChannel) Clear(start, end int64) error {
	if end <= start {
		return nil
	}
	zeros := make([]byte, min(end-start, transferBufferSize))
	for start < end {
		n := min(end-start, int64(len(zeros)))
		if err := v.writeAt("clear", start, zeros[:n]); err != nil {
			return err
		}
		start += n
	}
	return nil
}

func (v *FileChannel) TransferInto(offset int64, target Volume, targetOffset, size int64) error {
	return transferCopy(v, offset, target, targetOffset, size)
}

func (v *FileChannel) Sync() error {
	if v.closed.Load() {
		return core.ErrClosed
	}
	if v.readOnly {
		return nil
	}
	return core.NewVolumeError("sync", v.path, v.file.Sync())
}

func (v *FileChannel) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	return core.NewVolumeError("close", v.path, v.file.Close())
}

func (v *FileChannel) Length() int64    { return v.length.Load() }
func (v *FileChannel) IsSliced() bool   { return false }
func (v *FileChannel) SliceSize() int   { return 0 }
func (v *FileChannel) IsReadOnly() bool { return v.readOnly }
func (v *FileChannel) Path() string     { return v.path }
