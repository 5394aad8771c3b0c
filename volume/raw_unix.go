//go:build unix

package volume

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"
)

// RawMemoryAvailable reports whether anonymous mappings work on this host.
// The probe runs once per process.
var RawMemoryAvailable = sync.OnceValue(func() bool {
	b, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return false
	}
	return unix.Munmap(b) == nil
})

// rawBackend keeps slices in anonymous mappings outside the Go heap.
type rawBackend struct{}

func (rawBackend) grow(_ int, size int64) ([]byte, error) {
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available < uint64(size) {
		return nil, fmt.Errorf("out of memory: %d bytes available, slice needs %d", vm.Available, size)
	}
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (rawBackend) sync([][]byte) error { return nil }

func (rawBackend) shrink(dropped [][]byte, _ int64) error { return unmapAll(dropped) }

func (rawBackend) close(slices [][]byte) error { return unmapAll(slices) }

func unmapAll(slices [][]byte) error {
	var errs []error
	for _, s := range slices {
		if err := unix.Munmap(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRawMemory returns an off-heap memory volume, or a heap volume when the
// capability probe failed.
func NewRawMemory(opts Options) Volume {
	opts = opts.withDefaults()
	if !RawMemoryAvailable() {
		opts.Logger.Info("Raw memory unavailable, using heap volume", "component", "Volume")
		return NewByteArray(opts)
	}
	opts.ReadOnly = false
	return newSlicedVolume("", opts, rawBackend{})
}
