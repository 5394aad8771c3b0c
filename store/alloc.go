package store

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

// maxStoreSize is the largest offset an index value can address.
const maxStoreSize = int64(offsetMask) + 16

// span is a byte range in the data region.
type span struct {
	off  int64
	size int64
}

// allocate returns a 16-aligned range of size bytes, size a multiple of 16
// no larger than MaxRecSize. It reuses a free range of exactly that size
// class before bumping the cursor.
func (s *StoreDirect) allocate(size int64) (int64, error) {
	s.structLock.Lock()
	defer s.structLock.Unlock()
	off, err := s.allocateLocked(size)
	if err != nil {
		return 0, err
	}
	if err := s.flushPending(); err != nil {
		return 0, err
	}
	s.metrics.BytesAllocatedTotal.Add(size)
	return off, nil
}

func (s *StoreDirect) allocateLocked(size int64) (int64, error) {
	v, ok, err := s.longStackPop(masterOffset(size))
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.allocFromCursor(size)
	}
	off := int64(v) << 4
	if off < PageSize || off+size > s.storeSize.Load() {
		return 0, core.NewCorruptionError("free stack", masterOffset(size), "free range at %d is outside the data region", off)
	}
	s.freeBytes -= size
	return off, nil
}

// allocFromCursor carves size bytes out of the current page. When the page
// cannot hold them a new page is opened and the old tail goes to the
// pending list.
func (s *StoreDirect) allocFromCursor(size int64) (int64, error) {
	cursor := s.cursor
	if cursor%PageSize == 0 || cursor+size > roundUpPage(cursor) {
		if cursor%PageSize != 0 {
			s.pending = append(s.pending, span{off: cursor, size: roundUpPage(cursor) - cursor})
		}
		page, err := s.allocPage()
		if err != nil {
			return 0, err
		}
		cursor = page
	}
	s.cursor = cursor + size
	return cursor, s.io.headPut(headerCursorOffset, codec.Parity3Set(uint64(s.cursor)))
}

// allocPage appends a page at the end of the store.
func (s *StoreDirect) allocPage() (int64, error) {
	off := s.storeSize.Load()
	size := off + PageSize
	if size > maxStoreSize {
		return 0, fmt.Errorf("store size %d exceeds the addressable maximum %d: %w", size, maxStoreSize, core.ErrVolumeIO)
	}
	if err := s.io.grow(size); err != nil {
		return 0, err
	}
	s.storeSize.Store(size)
	s.metrics.PagesAllocatedTotal.Add(1)
	return off, s.io.headPut(headerStoreSizeOffset, codec.Parity16Set(uint64(size)))
}

// flushPending returns pending ranges to free space. Releasing may push onto
// a long stack, which may open a page and add a new pending tail, so it
// loops until the list is empty.
func (s *StoreDirect) flushPending() error {
	for len(s.pending) > 0 {
		sp := s.pending[len(s.pending)-1]
		s.pending = s.pending[:len(s.pending)-1]
		for sp.size > 0 {
			n := min(sp.size, MaxRecSize)
			if err := s.releaseRange(sp.off, n); err != nil {
				return err
			}
			sp.off += n
			sp.size -= n
		}
	}
	return nil
}

// releaseRange frees one range of at most MaxRecSize bytes. A range ending
// at the cursor moves the cursor back instead of being stacked, unless that
// would put the cursor on a page boundary.
func (s *StoreDirect) releaseRange(off, size int64) error {
	if s.opts.Debug && (off%16 != 0 || size%16 != 0 || size == 0 || size > MaxRecSize) {
		return core.NewCorruptionError("release", off, "misaligned range of %d bytes", size)
	}
	if err := s.io.released(off, size); err != nil {
		return err
	}
	if off+size == s.cursor && off%PageSize != 0 {
		s.cursor = off
		return s.io.headPut(headerCursorOffset, codec.Parity3Set(uint64(s.cursor)))
	}
	if err := s.longStackPush(masterOffset(size), uint64(off)>>4); err != nil {
		return err
	}
	s.freeBytes += size
	return nil
}

// freeSpans releases the fragments of a dead record. While snapshots are
// open the ranges are kept aside, since a snapshot may still read them.
func (s *StoreDirect) freeSpans(spans []span) error {
	if len(spans) == 0 {
		return nil
	}
	s.structLock.Lock()
	defer s.structLock.Unlock()
	var total int64
	for _, sp := range spans {
		total += sp.size
	}
	s.metrics.BytesFreedTotal.Add(total)
	if s.openSnaps.Load() > 0 {
		s.deferred = append(s.deferred, spans...)
		return nil
	}
	s.pending = append(s.pending, spans...)
	return s.flushPending()
}

// releaseDeferred frees ranges kept aside for snapshots. Must be called
// with the structural lock held.
func (s *StoreDirect) releaseDeferred() error {
	if len(s.deferred) == 0 {
		return nil
	}
	if s.walMode {
		// Rollback puts back the ranges of committed transactions; the
		// rest die with the transaction that freed them.
		s.txReleased = append(s.txReleased, s.deferred[:s.deferredMark]...)
		s.deferredMark = 0
	}
	s.pending = append(s.pending, s.deferred...)
	s.deferred = nil
	return s.flushPending()
}

// allocRecid reuses a deleted recid or extends the index.
func (s *StoreDirect) allocRecid() (core.Recid, error) {
	s.structLock.Lock()
	defer s.structLock.Unlock()
	v, ok, err := s.longStackPop(headerFreeRecidMaster)
	if err != nil {
		return 0, err
	}
	if ok {
		if v == 0 || v > s.maxRecid.Load() {
			return 0, core.NewCorruptionError("free recid stack", headerFreeRecidMaster, "recid %d out of range", v)
		}
		return core.Recid(v), s.flushPending()
	}

	recid := s.maxRecid.Load() + 1
	pages := *s.indexPages.Load()
	if int64(recid) > slotCapacity(len(pages)) {
		if err := s.growIndex(pages); err != nil {
			return 0, err
		}
	}
	if err := s.io.headPut(headerMaxRecidOffset, codec.Parity1Set(recid<<3)); err != nil {
		return 0, err
	}
	s.maxRecid.Store(recid)
	return core.Recid(recid), s.flushPending()
}

func (s *StoreDirect) freeRecid(recid core.Recid) error {
	s.structLock.Lock()
	defer s.structLock.Unlock()
	if err := s.longStackPush(headerFreeRecidMaster, uint64(recid)); err != nil {
		return err
	}
	return s.flushPending()
}

// growIndex links a new index page after the last one.
func (s *StoreDirect) growIndex(pages []int64) error {
	page, err := s.allocPage()
	if err != nil {
		return err
	}
	if err := s.io.newIndexPage(page); err != nil {
		return err
	}
	var link [8]byte
	binary.BigEndian.PutUint64(link[:], codec.Parity16Set(uint64(page)))
	if err := s.io.pagePut(pages[len(pages)-1], link[:]); err != nil {
		return err
	}
	next := append(pages[:len(pages):len(pages)], page)
	if err := s.io.headPut(headerIndexPagesOffset, codec.Parity16Set(uint64(len(next))<<16)); err != nil {
		return err
	}
	s.indexPages.Store(&next)
	s.logger.Debug("Index grew", "pages", len(next), "page_offset", page)
	return nil
}

// slotCapacity is the number of recids that fit in n index pages.
func slotCapacity(n int) int64 {
	return slotsPage0 + int64(n-1)*slotsPerPage
}

// indexOffset maps a recid to the offset of its index value.
func indexOffset(pages []int64, recid core.Recid) (int64, bool) {
	if recid == 0 {
		return 0, false
	}
	i := int64(recid) - 1
	if i < slotsPage0 {
		return pages[0] + indexPageHeader + i*8, true
	}
	i -= slotsPage0
	p := 1 + i/slotsPerPage
	if p >= int64(len(pages)) {
		return 0, false
	}
	return pages[p] + indexPageHeader + (i%slotsPerPage)*8, true
}

// segmentFor picks the lock segment of a recid.
func segmentFor(recid core.Recid, segments int) int {
	return int(uint64(recid) % uint64(segments))
}
