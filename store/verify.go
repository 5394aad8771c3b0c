package store

import (
	"context"
	"slices"

	"github.com/INLOpen/recstore/core"
	"github.com/RoaringBitmap/roaring/roaring64"
	"go.opentelemetry.io/otel/attribute"
)

// VerifyReport accounts for every byte of the store.
type VerifyReport struct {
	LiveRecords int64
	// LiveBytes is the space held by live fragments.
	LiveBytes int64
	FreeBytes int64
	// BookkeepingBytes is the space of long-stack pages.
	BookkeepingBytes int64
	// IndexBytes is the space of index pages, header included.
	IndexBytes int64
	// TailBytes is the unused end of the current allocation page.
	TailBytes int64
	// DeferredBytes is held for open snapshots.
	DeferredBytes int64
	FreeRecids    int64
	// UnlistedRecids are deleted recids missing from the free recid stack.
	UnlistedRecids int64
	// DirtyRecords carry the archive flag: changed since the last backup.
	DirtyRecords int64
}

// claims tracks which 16-byte units of the store are accounted for.
type claims struct {
	units *roaring64.Bitmap
}

func (c *claims) claim(what string, off, size int64) error {
	r := roaring64.New()
	r.AddRange(uint64(off)>>4, uint64(off+size)>>4)
	if c.units.Intersects(r) {
		return core.NewCorruptionError("verify", off, "%s [%d,+%d) overlaps space already accounted for", what, off, size)
	}
	c.units.Or(r)
	return nil
}

// Verify walks the index, every free-space stack and the free recid stack
// and checks that together they account for each byte of the store exactly
// once. It holds every lock for the duration.
func (s *StoreDirect) Verify(ctx context.Context) (VerifyReport, error) {
	var rep VerifyReport
	if err := s.checkOpen(); err != nil {
		return rep, err
	}
	_, span := s.tracer.Start(ctx, "StoreDirect.Verify")
	defer span.End()

	s.lockAll()
	defer s.unlockAll()
	s.structLock.Lock()
	defer s.structLock.Unlock()

	err := s.verifyLocked(ctx, &rep)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int64("verify.live_records", rep.LiveRecords), attribute.Int64("verify.free_bytes", rep.FreeBytes))
	return rep, s.note(err)
}

func (s *StoreDirect) verifyLocked(ctx context.Context, rep *VerifyReport) error {
	c := &claims{units: roaring64.New()}
	storeSize := s.storeSize.Load()
	pages := *s.indexPages.Load()

	for i, p := range pages {
		if i == 0 {
			p = 0
		}
		if err := c.claim("index page", p, PageSize); err != nil {
			return err
		}
		rep.IndexBytes += PageSize
	}

	tombstones := roaring64.New()
	for recid := core.Recid(1); uint64(recid) <= s.maxRecid.Load(); recid++ {
		if recid%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		seg, off, err := s.locate(recid)
		if err != nil {
			return err
		}
		v, err := s.io.indexGet(seg, off)
		if err != nil || v == 0 {
			if err != nil {
				return err
			}
			continue
		}
		e, err := decodeIndex(v, off)
		if err != nil {
			return err
		}
		if e.unused() {
			tombstones.Add(uint64(recid))
			continue
		}
		rep.LiveRecords++
		if e.archive() {
			rep.DirtyRecords++
		}
		if e.size == 0 {
			continue
		}
		spans, err := s.fragments(e, off)
		if err != nil {
			return err
		}
		for _, sp := range spans {
			if err := c.claim("record fragment", sp.off, sp.size); err != nil {
				return err
			}
			rep.LiveBytes += sp.size
		}
	}

	onPage := func(page int64) error {
		rep.BookkeepingBytes += longStackPageSize
		return c.claim("long stack page", page, longStackPageSize)
	}
	for size := int64(16); size <= MaxRecSize; size += 16 {
		err := s.longStackWalk(masterOffset(size), onPage, func(v uint64) error {
			rep.FreeBytes += size
			return c.claim("free range", int64(v)<<4, size)
		})
		if err != nil {
			return err
		}
	}
	if rep.FreeBytes != s.freeBytes {
		return core.NewCorruptionError("verify", 0, "free stacks hold %d bytes, expected %d", rep.FreeBytes, s.freeBytes)
	}

	listed := roaring64.New()
	err := s.longStackWalk(headerFreeRecidMaster, onPage, func(v uint64) error {
		if !tombstones.Contains(v) {
			return core.NewCorruptionError("verify", headerFreeRecidMaster, "free recid %d is not deleted", v)
		}
		if !listed.CheckedAdd(v) {
			return core.NewCorruptionError("verify", headerFreeRecidMaster, "free recid %d listed twice", v)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rep.FreeRecids = int64(listed.GetCardinality())
	rep.UnlistedRecids = int64(tombstones.GetCardinality()) - rep.FreeRecids

	if s.cursor%PageSize != 0 {
		rep.TailBytes = roundUpPage(s.cursor) - s.cursor
		if err := c.claim("page tail", s.cursor, rep.TailBytes); err != nil {
			return err
		}
	}
	for _, sp := range slices.Concat(s.deferred, s.pending) {
		if err := c.claim("deferred range", sp.off, sp.size); err != nil {
			return err
		}
		rep.DeferredBytes += sp.size
	}

	if got, want := c.units.GetCardinality(), uint64(storeSize)>>4; got != want {
		return core.NewCorruptionError("verify", storeSize, "%d of %d bytes accounted for", got<<4, storeSize)
	}
	return nil
}

// Verify checks the store including committed but unreplayed transactions.
func (w *StoreWAL) Verify(ctx context.Context) (VerifyReport, error) {
	return w.s.Verify(ctx)
}
