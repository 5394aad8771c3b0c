package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/compressors"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/sys"
	"github.com/INLOpen/recstore/volume"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StoreDirect is a record store that writes straight into its volume.
// Durability comes from Commit, which syncs the volume; a crash between
// commits may leave the store unreadable. Use StoreWAL for crash safety.
type StoreDirect struct {
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	hooks    hooks.HookManager
	factory  volume.Factory
	features core.Features
	comp     core.Compressor

	vol    volume.Volume
	io     storeIO
	unlock func() error

	// Lock order: commitLock, segments in ascending order, structLock.
	commitLock sync.Mutex
	segments   []sync.RWMutex
	structLock sync.Mutex

	// Guarded by structLock.
	cursor    int64
	freeBytes int64
	pending   []span
	deferred  []span
	// deferred[:deferredMark] was freed by committed WAL transactions;
	// txReleased lists those released during the current one.
	deferredMark int
	txReleased   []span

	storeSize  atomic.Int64
	maxRecid   atomic.Uint64
	indexPages atomic.Pointer[[]int64]

	snapMu    sync.Mutex
	snapshots map[*Snapshot]struct{}
	openSnaps atomic.Int32

	walMode bool
	closed  atomic.Bool
}

// Stats is a point-in-time summary of a store.
type Stats struct {
	StoreSize     int64
	FreeBytes     int64
	MaxRecid      core.Recid
	IndexPages    int
	OpenSnapshots int
	WALFiles      int
	Features      core.Features
	// Set by Cached.
	CachedRecords int
	CacheHitRate  float64
}

var _ Engine = (*StoreDirect)(nil)

// OpenDirect opens or creates a store without a write-ahead log.
func OpenDirect(opts Options) (*StoreDirect, error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	s.io = &directIO{vol: s.vol}
	fresh, err := s.isFresh()
	if err == nil {
		if fresh {
			err = s.create()
			if err == nil {
				err = s.commitLocked()
			}
		} else {
			err = s.load()
		}
	}
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.logger.Info("Store opened", "fresh", fresh, "store_size", s.storeSize.Load(), "max_recid", s.maxRecid.Load())
	return s, nil
}

// newStore takes the file lock, finishes an interrupted compaction swap and
// opens the main volume.
func newStore(opts Options) (*StoreDirect, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	comp, err := compressors.New(opts.Compression)
	if err != nil {
		return nil, err
	}
	factory, err := volume.NewFactory(opts.VolumeKind)
	if err != nil {
		return nil, err
	}
	s := &StoreDirect{
		opts:      opts,
		logger:    opts.Logger.With("component", "Store", "path", opts.Path),
		tracer:    opts.TracerProvider.Tracer("github.com/INLOpen/recstore/store"),
		metrics:   opts.Metrics,
		hooks:     opts.HookManager,
		factory:   factory,
		features:  opts.features(),
		comp:      comp,
		segments:  make([]sync.RWMutex, opts.Segments),
		snapshots: make(map[*Snapshot]struct{}),
	}
	if opts.Debug {
		sys.SetDebugMode(true)
	}
	if opts.Path != "" {
		if !opts.ReadOnly {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		if !opts.noLock {
			unlock, err := sys.AcquireFileLock(opts.Path, sys.LockOptions{StaleTTL: opts.LockStaleTTL})
			if err != nil {
				return nil, err
			}
			s.unlock = unlock
		}
		if err := recoverCompaction(opts.Path, s.logger); err != nil {
			s.closeFiles()
			return nil, err
		}
	}
	vol, err := factory(opts.Path, opts.volumeOptions())
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.vol = vol
	return s, nil
}

// isFresh reports whether the main volume holds no store yet.
func (s *StoreDirect) isFresh() (bool, error) {
	if s.vol.Length() < HeadEnd {
		return true, nil
	}
	magic, err := s.vol.GetInt(headerMagicOffset)
	return magic == 0, err
}

// create writes the header of an empty store through s.io.
func (s *StoreDirect) create() error {
	if s.opts.ReadOnly {
		return core.WrongConfigf("cannot create a store in read-only mode")
	}
	if err := s.io.grow(PageSize); err != nil {
		return err
	}
	if err := s.io.newIndexPage(0); err != nil {
		return err
	}
	words := []struct {
		off int64
		v   uint64
	}{
		{headerMagicOffset, uint64(core.NewFileHeader(core.StoreMagic).Encode()) << 32},
		{headerFeaturesOffset, uint64(s.features)},
		{headerStoreSizeOffset, codec.Parity16Set(uint64(PageSize))},
		{headerCursorOffset, codec.Parity3Set(uint64(PageSize))},
		{headerIndexPagesOffset, codec.Parity16Set(1 << 16)},
		{headerMaxRecidOffset, codec.Parity1Set(uint64(RecidLastReserved) << 3)},
	}
	for _, w := range words {
		if err := s.io.headPut(w.off, w.v); err != nil {
			return err
		}
	}
	s.storeSize.Store(PageSize)
	s.cursor = PageSize
	pages := []int64{IndexPageZero}
	s.indexPages.Store(&pages)
	s.maxRecid.Store(uint64(RecidLastReserved))
	for r := core.Recid(1); r <= RecidLastReserved; r++ {
		off, _ := indexOffset(pages, r)
		if err := s.io.indexPut(segmentFor(r, len(s.segments)), off, nullValue); err != nil {
			return err
		}
	}
	return nil
}

// load validates the header and rebuilds in-memory state from it.
func (s *StoreDirect) load() error {
	w0, err := s.io.headGet(headerMagicOffset)
	if err != nil {
		return err
	}
	if err := core.DecodeFileHeader(uint32(w0 >> 32)).Validate(core.StoreMagic); err != nil {
		return err
	}
	sum, err := s.headerChecksum()
	if err != nil {
		return err
	}
	if uint32(w0) != sum {
		return core.NewCorruptionError("store header", headerChecksumOffset, "checksum %08x, computed %08x", uint32(w0), sum)
	}
	f, err := s.io.headGet(headerFeaturesOffset)
	if err != nil {
		return err
	}
	if unknown := core.Features(f).Unknown(); unknown != 0 {
		return core.WrongConfigf("store uses unknown features %#x", uint64(unknown))
	}
	if core.Features(f) != s.features {
		return core.WrongConfigf("store was created with features %#x, options ask for %#x", f, uint64(s.features))
	}
	return s.reloadState()
}

// reloadState reads the scalar header words, the index page chain and the
// free byte count. Callers hold the structural lock or own the store.
func (s *StoreDirect) reloadState() error {
	read := func(off int64, check func(uint64) (uint64, error)) (uint64, error) {
		v, err := s.io.headGet(off)
		if err != nil {
			return 0, err
		}
		raw, err := check(v)
		if err != nil {
			return 0, core.NewCorruptionError("store header", off, "checksum mismatch in %#016x", v)
		}
		return raw, nil
	}
	size, err := read(headerStoreSizeOffset, codec.Parity16Get)
	if err != nil {
		return err
	}
	cursor, err := read(headerCursorOffset, codec.Parity3Get)
	if err != nil {
		return err
	}
	maxRecid, err := read(headerMaxRecidOffset, codec.Parity1Get)
	if err != nil {
		return err
	}
	count, err := read(headerIndexPagesOffset, codec.Parity16Get)
	if err != nil {
		return err
	}
	maxRecid >>= 3
	count >>= 16
	storeSize := int64(size)
	if storeSize < PageSize || storeSize%PageSize != 0 || int64(cursor) < PageSize || int64(cursor) > storeSize || count == 0 {
		return core.NewCorruptionError("store header", headerStoreSizeOffset, "inconsistent size %d, cursor %d, index pages %d", storeSize, cursor, count)
	}
	if int64(maxRecid) > slotCapacity(int(count)) || maxRecid < uint64(RecidLastReserved) {
		return core.NewCorruptionError("store header", headerMaxRecidOffset, "max recid %d does not fit %d index pages", maxRecid, count)
	}
	s.storeSize.Store(storeSize)
	s.cursor = int64(cursor)

	pages := make([]int64, 1, count)
	pages[0] = IndexPageZero
	var link [8]byte
	for i := uint64(1); i < count; i++ {
		prev := pages[len(pages)-1]
		if err := s.io.pageGet(prev, link[:]); err != nil {
			return err
		}
		raw, err := codec.Parity16Get(binary.BigEndian.Uint64(link[:]))
		next := int64(raw)
		if err != nil || next < PageSize || next%PageSize != 0 || next >= storeSize {
			return core.NewCorruptionError("index page link", prev, "bad next page %#x", binary.BigEndian.Uint64(link[:]))
		}
		pages = append(pages, next)
	}
	s.indexPages.Store(&pages)
	s.maxRecid.Store(maxRecid)

	var free int64
	for size := int64(16); size <= MaxRecSize; size += 16 {
		err := s.longStackWalk(masterOffset(size), nil, func(uint64) error {
			free += size
			return nil
		})
		if err != nil {
			return err
		}
	}
	s.freeBytes = free
	s.pending = nil
	return nil
}

// headerChecksum sums the hashes of every header word after the first.
func (s *StoreDirect) headerChecksum() (uint32, error) {
	var sum uint32
	for off := headerFeaturesOffset; off < HeadEnd; off += 8 {
		v, err := s.io.headGet(off)
		if err != nil {
			return 0, err
		}
		sum += uint32(codec.HashLong(v))
	}
	return sum, nil
}

// sealHeader stores the header checksum next to the magic.
func (s *StoreDirect) sealHeader() error {
	sum, err := s.headerChecksum()
	if err != nil {
		return err
	}
	return s.io.headPut(headerMagicOffset, uint64(core.NewFileHeader(core.StoreMagic).Encode())<<32|uint64(sum))
}

// commitLocked seals the header and syncs the volume. Callers hold every lock.
func (s *StoreDirect) commitLocked() error {
	if s.opts.ReadOnly {
		return nil
	}
	if err := s.sealHeader(); err != nil {
		return err
	}
	return s.vol.Sync()
}

func (s *StoreDirect) checkOpen() error {
	if s.closed.Load() {
		return core.ErrClosed
	}
	return nil
}

func (s *StoreDirect) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.opts.ReadOnly {
		return core.WrongConfigf("store is read-only")
	}
	return nil
}

// note counts corruption errors on their way out.
func (s *StoreDirect) note(err error) error {
	if err != nil && core.IsCorruption(err) {
		s.metrics.CorruptionsTotal.Add(1)
		s.logger.Error("Data corruption detected", "error", err)
	}
	return err
}

// locate returns the segment and index offset of an allocated recid.
func (s *StoreDirect) locate(recid core.Recid) (int, int64, error) {
	if recid == 0 || uint64(recid) > s.maxRecid.Load() {
		return 0, 0, fmt.Errorf("recid %d: %w", recid, core.ErrVoidAccess)
	}
	off, ok := indexOffset(*s.indexPages.Load(), recid)
	if !ok {
		return 0, 0, fmt.Errorf("recid %d: %w", recid, core.ErrVoidAccess)
	}
	return segmentFor(recid, len(s.segments)), off, nil
}

// liveEntry decodes an index value of a recid that must exist.
func liveEntry(recid core.Recid, v uint64, off int64) (indexEntry, error) {
	if v == 0 {
		return indexEntry{}, fmt.Errorf("recid %d: %w", recid, core.ErrVoidAccess)
	}
	e, err := decodeIndex(v, off)
	if err != nil {
		return indexEntry{}, err
	}
	if e.unused() {
		return indexEntry{}, fmt.Errorf("recid %d: %w", recid, core.ErrNotFound)
	}
	return e, nil
}

// readValue returns the record an index value points to.
func (s *StoreDirect) readValue(recid core.Recid, v uint64, off int64) ([]byte, error) {
	e, err := liveEntry(recid, v, off)
	if err != nil {
		return nil, err
	}
	if e.size == 0 {
		if e.linked() {
			return nil, nil
		}
		return []byte{}, nil
	}
	stored, err := s.readStored(e, off)
	if err != nil {
		return nil, err
	}
	return s.decode(stored, e.offset)
}

// setIndex writes an index value, first handing the old value to open
// snapshots. Callers hold the segment write lock.
func (s *StoreDirect) setIndex(seg int, off int64, v uint64) error {
	if s.openSnaps.Load() > 0 {
		old, err := s.io.indexGet(seg, off)
		if err != nil {
			return err
		}
		s.captureSnapshots(seg, off, old)
	}
	return s.io.indexPut(seg, off, v)
}

// Put stores data under a new recid. A nil slice stores a null record.
func (s *StoreDirect) Put(data []byte) (core.Recid, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	s.metrics.PutTotal.Add(1)
	stored, err := s.encode(data)
	if err != nil {
		return 0, err
	}
	recid, err := s.allocRecid()
	if err != nil {
		return 0, s.note(err)
	}
	seg, off, err := s.locate(recid)
	if err != nil {
		return 0, err
	}
	s.segments[seg].Lock()
	defer s.segments[seg].Unlock()
	v, err := s.writeStored(stored)
	if err == nil {
		err = s.setIndex(seg, off, v)
	}
	if err != nil {
		// Leave the recid deleted so it is not reported as void.
		if s.setIndex(seg, off, tombstone) == nil {
			s.freeRecid(recid)
		}
		return 0, s.note(err)
	}
	return recid, nil
}

// Get returns the record stored under recid: nil for a null record,
// ErrNotFound for a deleted one and ErrVoidAccess for one never allocated.
func (s *StoreDirect) Get(recid core.Recid) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.metrics.GetTotal.Add(1)
	seg, off, err := s.locate(recid)
	if err != nil {
		return nil, err
	}
	s.segments[seg].RLock()
	defer s.segments[seg].RUnlock()
	v, err := s.io.indexGet(seg, off)
	if err != nil {
		return nil, err
	}
	data, err := s.readValue(recid, v, off)
	return data, s.note(err)
}

// Update replaces the record under recid. The old space is reused in place
// only when the stored size is unchanged and no snapshot is open.
func (s *StoreDirect) Update(recid core.Recid, data []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.metrics.UpdateTotal.Add(1)
	stored, err := s.encode(data)
	if err != nil {
		return err
	}
	seg, off, err := s.locate(recid)
	if err != nil {
		return err
	}
	s.segments[seg].Lock()
	defer s.segments[seg].Unlock()
	old, err := s.io.indexGet(seg, off)
	if err != nil {
		return err
	}
	e, err := liveEntry(recid, old, off)
	if err != nil {
		return s.note(err)
	}
	if stored != nil && !e.linked() && e.size > 0 && e.size == len(stored) && s.openSnaps.Load() == 0 {
		if err := s.checkFragment(e, off); err != nil {
			return s.note(err)
		}
		if err := s.io.dataPut(e.offset, stored); err != nil {
			return err
		}
		e.flags |= flagArchive
		return s.setIndex(seg, off, e.encode())
	}

	var spans []span
	if e.size > 0 {
		if spans, err = s.fragments(e, off); err != nil {
			return s.note(err)
		}
	}
	v, err := s.writeStored(stored)
	if err != nil {
		return s.note(err)
	}
	if err := s.setIndex(seg, off, v); err != nil {
		return err
	}
	return s.note(s.freeSpans(spans))
}

// Delete frees the record under recid and makes the recid reusable.
func (s *StoreDirect) Delete(recid core.Recid) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.metrics.DeleteTotal.Add(1)
	seg, off, err := s.locate(recid)
	if err != nil {
		return err
	}
	s.segments[seg].Lock()
	defer s.segments[seg].Unlock()
	old, err := s.io.indexGet(seg, off)
	if err != nil {
		return err
	}
	e, err := liveEntry(recid, old, off)
	if err != nil {
		return s.note(err)
	}
	var spans []span
	if e.size > 0 {
		if spans, err = s.fragments(e, off); err != nil {
			return s.note(err)
		}
	}
	if err := s.setIndex(seg, off, tombstone); err != nil {
		return err
	}
	if err := s.freeSpans(spans); err != nil {
		return s.note(err)
	}
	return s.note(s.freeRecid(recid))
}

// Preallocate reserves a recid holding a null record.
func (s *StoreDirect) Preallocate() (core.Recid, error) {
	return s.Put(nil)
}

// MaxRecid returns the highest recid ever allocated.
func (s *StoreDirect) MaxRecid() core.Recid {
	return core.Recid(s.maxRecid.Load())
}

// Commit makes every change so far durable.
func (s *StoreDirect) Commit() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(context.Background(), "StoreDirect.Commit")
	defer span.End()
	start := time.Now()

	s.commitLock.Lock()
	s.lockAll()
	s.structLock.Lock()
	err := s.commitLocked()
	payload := hooks.PostCommitPayload{
		StoreSize: s.storeSize.Load(),
		FreeBytes: s.freeBytes,
		MaxRecid:  s.maxRecid.Load(),
	}
	s.structLock.Unlock()
	s.unlockAll()
	s.commitLock.Unlock()

	if err != nil {
		s.metrics.CommitErrors.Add(1)
		span.RecordError(err)
		return fmt.Errorf("commit failed: %w", err)
	}
	payload.Duration = time.Since(start)
	s.metrics.CommitTotal.Add(1)
	observeLatency(s.metrics.CommitLatencyHist, payload.Duration)
	span.SetAttributes(attribute.Int64("store.size", payload.StoreSize), attribute.Int64("store.max_recid", int64(payload.MaxRecid)))
	s.hooks.Trigger(ctx, hooks.NewPostCommitEvent(payload))
	return nil
}

// Rollback is not available without a write-ahead log.
func (s *StoreDirect) Rollback() error {
	return core.WrongConfigf("rollback needs transactions enabled")
}

// Stats returns a summary of the store.
func (s *StoreDirect) Stats() Stats {
	s.structLock.Lock()
	free := s.freeBytes
	s.structLock.Unlock()
	return Stats{
		StoreSize:     s.storeSize.Load(),
		FreeBytes:     free,
		MaxRecid:      s.MaxRecid(),
		IndexPages:    len(*s.indexPages.Load()),
		OpenSnapshots: int(s.openSnaps.Load()),
		Features:      s.features,
	}
}

// Close commits and releases the store. Open snapshots are closed and the
// space they held back is freed. Further calls return ErrClosed.
func (s *StoreDirect) Close() error {
	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.lockAll()
	s.closeAllSnapshots()
	s.structLock.Lock()
	err := s.releaseDeferred()
	if err == nil {
		err = s.commitLocked()
	}
	s.closed.Store(true)
	s.structLock.Unlock()
	s.unlockAll()
	return s.finishClose(err)
}

// finishClose releases files, fires the close hook and waits for
// asynchronous listeners.
func (s *StoreDirect) finishClose(err error) error {
	err = errors.Join(err, s.closeFiles())
	if err != nil {
		s.logger.Error("Error during store close.", "error", err)
	} else {
		s.logger.Info("Store closed.")
	}
	s.hooks.Trigger(context.Background(), hooks.NewPostCloseEvent(hooks.PostClosePayload{Path: s.opts.Path}))
	s.hooks.Stop()
	return err
}

// closeFiles closes the volume and drops the file lock.
func (s *StoreDirect) closeFiles() error {
	var errs []error
	if s.vol != nil {
		errs = append(errs, s.vol.Close())
		s.vol = nil
	}
	if s.unlock != nil {
		errs = append(errs, s.unlock())
		s.unlock = nil
	}
	return errors.Join(errs...)
}

func (s *StoreDirect) lockAll() {
	for i := range s.segments {
		s.segments[i].Lock()
	}
}

func (s *StoreDirect) unlockAll() {
	for i := len(s.segments) - 1; i >= 0; i-- {
		s.segments[i].Unlock()
	}
}
