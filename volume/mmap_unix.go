//go:build unix

package volume

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/sys"
)

// mmapBackend maps every slice of a file separately. Growing adds a mapping
// and never remaps existing ones, so concurrent readers of lower offsets keep
// valid memory.
type mmapBackend struct {
	file        sys.FileHandle
	prot        int
	fileLen     int64
	preallocate bool
	opts        Options
}

func (b *mmapBackend) grow(index int, size int64) ([]byte, error) {
	end := int64(index+1) * size
	switch {
	case end <= b.fileLen:
	case b.prot&unix.PROT_WRITE == 0:
		if int64(index)*size >= b.fileLen {
			return nil, fmt.Errorf("%w: read-only file ends at %d", errBeyondLength, b.fileLen)
		}
	default:
		if err := b.file.Truncate(end); err != nil {
			return nil, err
		}
		if b.preallocate {
			if err := sys.Preallocate(b.file, end); err != nil && !errors.Is(err, sys.ErrPreallocNotSupported) {
				b.opts.Logger.Warn("Preallocation failed", "path", b.file.Name(), "size", end, "error", err)
			}
		}
		b.fileLen = end
	}
	return unix.Mmap(int(b.file.Fd()), int64(index)*size, int(size), b.prot, unix.MAP_SHARED)
}

func (b *mmapBackend) sync(slices [][]byte) error {
	for _, s := range slices {
		if err := unix.Msync(s, unix.MS_SYNC); err != nil {
			return err
		}
	}
	return b.file.Sync()
}

func (b *mmapBackend) shrink(dropped [][]byte, newLength int64) error {
	if err := unmapAll(dropped); err != nil {
		return err
	}
	b.fileLen = newLength
	return b.file.Truncate(newLength)
}

func (b *mmapBackend) close(slices [][]byte) error {
	err := unmapAll(slices)
	return errors.Join(err, b.file.Close())
}

// NewMappedFile opens (or creates) path as a memory-mapped volume. Existing
// content is mapped up front; a writable file is extended to whole slices.
func NewMappedFile(path string, opts Options) (Volume, error) {
	opts = opts.withDefaults()
	flag, prot := os.O_RDWR|os.O_CREATE, unix.PROT_READ|unix.PROT_WRITE
	if opts.ReadOnly {
		flag, prot = os.O_RDONLY, unix.PROT_READ
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
	backend := &mmapBackend{file: f, prot: prot, fileLen: info.Size(), preallocate: opts.Preallocate, opts: opts}
	v := newSlicedVolume(path, opts, backend)
	size := info.Size()
	if opts.ReadOnly {
		v.limit = size
		if size > 0 {
			// The last mapping may run past EOF; limit keeps reads inside the file.
			v.readOnly = false
			err = v.EnsureAvailable(size)
			v.readOnly = true
		}
	} else if size > 0 {
		err = v.EnsureAvailable(size)
	}
	if err != nil {
		v.Close()
		return nil, err
	}
	opts.Logger.Debug("Mapped volume opened", "component", "Volume", "path", path, "length", v.Length(), "read_only", opts.ReadOnly)
	return v, nil
}
