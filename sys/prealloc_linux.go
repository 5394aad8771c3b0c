//go:build linux

package sys

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// localFilesystems are the statfs magic numbers on which fallocate is tried.
var localFilesystems = map[int64]bool{
	0xEF53:     true, // ext2/3/4
	0x58465342: true, // xfs
	0x9123683E: true, // btrfs
	0x01021994: true, // tmpfs
	0x794C7630: true, // overlayfs
	0xF2F52010: true, // f2fs
	0x2FC12FC1: true, // zfs
}

func notSupported(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTTY)
}

// Preallocate reserves disk blocks for [0, size) of f without changing its
// visible length, so a later mmap of a grown slice does not hit SIGBUS on a
// full disk.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	fd := int(f.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
		if allow, ok := preallocCacheLoad(dev); ok {
			preallocCacheHit()
			if !allow {
				preallocUnsupportedInc()
				return ErrPreallocNotSupported
			}
			return fallocate(fd, dev, size)
		}
		preallocCacheMiss()
	}

	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil || !localFilesystems[int64(st.Type)] {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		preallocUnsupportedInc()
		return ErrPreallocNotSupported
	}
	return fallocate(fd, dev, size)
}

func fallocate(fd int, dev uint64, size int64) error {
	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == nil {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		preallocSuccessInc()
		return nil
	}
	if notSupported(err) {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		preallocUnsupportedInc()
		return ErrPreallocNotSupported
	}
	preallocFailureInc()
	return fmt.Errorf("preallocation failed for fd=%d: %w", fd, err)
}
