package store

import (
	"github.com/INLOpen/recstore/volume"
)

// storeIO is where the allocator reads and writes. The direct store talks to
// the main volume; the WAL store buffers changes until commit.
//
// Header words are guarded by the structural lock, index words by the
// segment lock of their recid, long-stack and index-page links by the
// structural lock.
type storeIO interface {
	headGet(off int64) (uint64, error)
	headPut(off int64, v uint64) error

	indexGet(seg int, off int64) (uint64, error)
	indexPut(seg int, off int64, v uint64) error

	// pageGet and pagePut address bookkeeping units (long-stack pages,
	// index-page links) that are always read back with the same length.
	pageGet(off int64, dst []byte) error
	pagePut(off int64, src []byte) error

	dataGet(off int64, dst []byte) error
	dataPut(off int64, src []byte) error

	// released is called when [off, off+size) returns to free space.
	released(off, size int64) error
	// grow makes the store able to hold size bytes.
	grow(size int64) error
	// newIndexPage prepares a freshly allocated index page.
	newIndexPage(off int64) error
}

// directIO writes straight into the main volume.
type directIO struct {
	vol volume.Volume
}

var _ storeIO = (*directIO)(nil)

func (d *directIO) headGet(off int64) (uint64, error) { return d.vol.GetLong(off) }

func (d *directIO) headPut(off int64, v uint64) error { return d.vol.PutLong(off, v) }

func (d *directIO) indexGet(_ int, off int64) (uint64, error) { return d.vol.GetLong(off) }

func (d *directIO) indexPut(_ int, off int64, v uint64) error { return d.vol.PutLong(off, v) }

func (d *directIO) pageGet(off int64, dst []byte) error {
	return volume.GetDataOverlap(d.vol, off, dst)
}

func (d *directIO) pagePut(off int64, src []byte) error {
	return volume.PutDataOverlap(d.vol, off, src)
}

func (d *directIO) dataGet(off int64, dst []byte) error {
	return volume.GetDataOverlap(d.vol, off, dst)
}

func (d *directIO) dataPut(off int64, src []byte) error {
	return volume.PutDataOverlap(d.vol, off, src)
}

func (d *directIO) grow(size int64) error { return d.vol.EnsureAvailable(size) }

func (d *directIO) newIndexPage(off int64) error { return d.vol.Clear(off, off+PageSize) }

// released zero-fills freed space so no old value survives reuse.
func (d *directIO) released(off, size int64) error { return d.vol.Clear(off, off+size) }
