package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/INLOpen/recstore/checkpoint"
	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/sys"
	"github.com/INLOpen/recstore/volume"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// compactCheckEvery is how many recids a shard copies between context checks.
const compactCheckEvery = 1024

// compactPath returns the compaction target of a store file.
func compactPath(path string) string {
	return path + core.CompactFileSuffix
}

// Compact rewrites the store into a fresh file holding only live records,
// then swaps it in. Recids are preserved. It refuses to run while snapshots
// are open or when artifacts of an earlier compaction are present.
func (s *StoreDirect) Compact(ctx context.Context) error {
	return s.compact(ctx, nil, func(vol volume.Volume) error {
		s.vol = vol
		s.io = &directIO{vol: vol}
		return nil
	})
}

// Compact folds the log into the store file and compacts it. An open
// transaction must be committed or rolled back first.
func (w *StoreWAL) Compact(ctx context.Context) error {
	prepare := func() error {
		dirty, err := w.io.dirty()
		if err != nil {
			return err
		}
		if dirty {
			return core.WrongConfigf("cannot compact with an uncommitted transaction")
		}
		if w.log.FileCount() > 0 {
			return w.replay(ctx, false)
		}
		return nil
	}
	install := func(vol volume.Volume) error {
		ro := volume.ReadOnly(vol)
		io, err := newWALIO(ro, w.log, len(w.s.segments))
		if err != nil {
			return err
		}
		w.io.close()
		w.io = io
		w.s.vol = ro
		w.s.io = io
		w.txCount = 0
		return nil
	}
	return w.s.compact(ctx, prepare, install)
}

// compact runs under every lock. prepare runs first with the locks held;
// install adopts the compacted main volume.
func (s *StoreDirect) compact(ctx context.Context, prepare func() error, install func(volume.Volume) error) (err error) {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if s.opts.Path != "" {
		if checkpoint.Exists(s.opts.Path) {
			return core.WrongConfigf("compaction marker %s exists; an earlier compaction did not finish", checkpoint.Path(s.opts.Path))
		}
		if _, err := os.Stat(compactPath(s.opts.Path)); err == nil {
			return core.WrongConfigf("compaction target %s exists; an earlier compaction did not finish", compactPath(s.opts.Path))
		}
	}
	ctx, span := s.tracer.Start(ctx, "StoreDirect.Compact")
	defer span.End()
	logger := s.logger.With("component", "Compactor")

	sizeBefore := s.storeSize.Load()
	if err := s.hooks.Trigger(ctx, hooks.NewPreCompactionEvent(hooks.PreCompactionPayload{
		Path:      s.opts.Path,
		MaxRecid:  s.maxRecid.Load(),
		StoreSize: sizeBefore,
	})); err != nil {
		return err
	}

	start := time.Now()
	var live int64
	defer func() {
		d := time.Since(start)
		if err != nil {
			s.metrics.CompactionErrorsTotal.Add(1)
			span.RecordError(err)
			logger.Error("Compaction failed", "error", err)
		} else {
			s.metrics.CompactionTotal.Add(1)
			s.metrics.CompactionBytesSaved.Add(sizeBefore - s.storeSize.Load())
			observeLatency(s.metrics.CompactionLatencyHist, d)
			logger.Info("Compaction finished", "live_records", live, "size_before", sizeBefore, "size_after", s.storeSize.Load(), "duration", d)
		}
		span.SetAttributes(attribute.Int64("compaction.live_records", live), attribute.Int64("compaction.size_before", sizeBefore))
		s.hooks.Trigger(ctx, hooks.NewPostCompactionEvent(hooks.PostCompactionPayload{
			Path:        s.opts.Path,
			LiveRecords: live,
			SizeBefore:  sizeBefore,
			SizeAfter:   s.storeSize.Load(),
			Duration:    d,
			Error:       err,
		}))
	}()

	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	s.lockAll()
	defer s.unlockAll()
	s.structLock.Lock()
	defer s.structLock.Unlock()

	if s.closed.Load() {
		return core.ErrClosed
	}
	if s.openSnaps.Load() > 0 {
		return core.WrongConfigf("cannot compact while %d snapshots are open", s.openSnaps.Load())
	}
	if prepare != nil {
		if err := prepare(); err != nil {
			return err
		}
	}
	logger.Info("Compaction started", "max_recid", s.maxRecid.Load(), "store_size", sizeBefore)

	target, err := s.openCompactTarget()
	if err != nil {
		return err
	}
	swapped := false
	defer func() {
		if !swapped {
			target.closeFiles()
			if s.opts.Path != "" {
				DiscardCompactionArtifacts(s.opts.Path)
			}
		}
	}()
	if s.opts.Path != "" {
		if err := checkpoint.Write(s.opts.Path, checkpoint.Marker{Phase: checkpoint.PhaseBuilding, MaxRecid: s.maxRecid.Load()}); err != nil {
			return err
		}
	}

	if live, err = s.copyInto(ctx, target); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("compaction cancelled: %w", errors.Join(core.ErrInterrupted, err))
		}
		return err
	}
	if err := target.commitLocked(); err != nil {
		return err
	}

	swapped = true
	if err := s.swapIn(target, install); err != nil {
		// The main volume may already be gone; reopening finishes the swap.
		s.closed.Store(true)
		return fmt.Errorf("compaction swap failed, reopen the store: %w", err)
	}
	return s.note(s.reloadState())
}

// openCompactTarget opens an empty private store next to this one, or in
// memory for a memory store.
func (s *StoreDirect) openCompactTarget() (*StoreDirect, error) {
	opts := s.opts
	opts.Transactions = false
	opts.CacheCapacity = 0
	opts.noLock = true
	opts.Metrics = NewMetrics(false, "")
	opts.HookManager = hooks.NewHookManager(nil)
	opts.Logger = s.opts.Logger.With("component", "Compactor")
	if opts.Path != "" {
		opts.Path = compactPath(s.opts.Path)
	}
	return OpenDirect(opts)
}

// copyInto copies every recid into target, preserving recids, record bytes
// and archive flags. Deleted recids go onto the target's free recid stack.
// Shards are index pages; they run in parallel when enabled.
func (s *StoreDirect) copyInto(ctx context.Context, target *StoreDirect) (int64, error) {
	maxRecid := core.Recid(s.maxRecid.Load())
	if err := target.reserveRecids(maxRecid); err != nil {
		return 0, err
	}

	type shard struct{ from, to core.Recid }
	var shards []shard
	for from := core.Recid(1); from <= maxRecid; {
		to := min(maxRecid, core.Recid(slotCapacity(len(shards)+1)))
		shards = append(shards, shard{from, to})
		from = to + 1
	}

	var live atomic.Int64
	freed := make([][]core.Recid, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	if !s.opts.ParallelCompaction {
		g.SetLimit(1)
	}
	for i, sh := range shards {
		g.Go(func() error {
			n, free, err := s.copyShard(gctx, target, sh.from, sh.to)
			live.Add(n)
			freed[i] = free
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return live.Load(), err
	}

	// Pushed highest first so the lowest recid is reused first.
	all := slices.Concat(freed...)
	slices.Sort(all)
	target.structLock.Lock()
	defer target.structLock.Unlock()
	for i := len(all) - 1; i >= 0; i-- {
		if err := target.longStackPush(headerFreeRecidMaster, uint64(all[i])); err != nil {
			return live.Load(), err
		}
	}
	return live.Load(), target.flushPending()
}

func (s *StoreDirect) copyShard(ctx context.Context, target *StoreDirect, from, to core.Recid) (int64, []core.Recid, error) {
	var live int64
	var free []core.Recid
	srcPages := *s.indexPages.Load()
	dstPages := *target.indexPages.Load()
	for recid := from; recid <= to; recid++ {
		if (recid-from)%compactCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return live, nil, err
			}
		}
		srcOff, _ := indexOffset(srcPages, recid)
		dstOff, _ := indexOffset(dstPages, recid)
		v, err := s.io.indexGet(segmentFor(recid, len(s.segments)), srcOff)
		if err != nil || v == 0 {
			if err != nil {
				return live, nil, err
			}
			continue
		}
		e, err := decodeIndex(v, srcOff)
		if err != nil {
			return live, nil, err
		}
		if e.unused() {
			free = append(free, recid)
			v = tombstone
		} else if e.size > 0 {
			stored, err := s.readStored(e, srcOff)
			if err != nil {
				return live, nil, err
			}
			if v, err = target.writeStored(stored); err != nil {
				return live, nil, err
			}
			if !e.archive() {
				ne, _ := decodeIndex(v, dstOff)
				ne.flags &^= flagArchive
				v = ne.encode()
			}
			live++
		} else {
			live++
		}
		if err := target.io.indexPut(segmentFor(recid, len(target.segments)), dstOff, v); err != nil {
			return live, nil, err
		}
	}
	return live, free, nil
}

// reserveRecids grows the index so recids up to max are addressable and
// makes max the highest allocated recid.
func (s *StoreDirect) reserveRecids(max core.Recid) error {
	s.structLock.Lock()
	defer s.structLock.Unlock()
	for {
		pages := *s.indexPages.Load()
		if int64(max) <= slotCapacity(len(pages)) {
			break
		}
		if err := s.growIndex(pages); err != nil {
			return err
		}
	}
	if uint64(max) <= s.maxRecid.Load() {
		return nil
	}
	s.maxRecid.Store(uint64(max))
	return s.io.headPut(headerMaxRecidOffset, codec.Parity1Set(uint64(max)<<3))
}

// swapIn replaces the main volume with the compacted target. Callers hold
// every lock.
func (s *StoreDirect) swapIn(target *StoreDirect, install func(volume.Volume) error) error {
	if s.opts.Path == "" {
		vol := target.vol
		target.vol = nil
		old := s.vol
		if err := install(vol); err != nil {
			return err
		}
		return old.Close()
	}

	if err := target.closeFiles(); err != nil {
		return err
	}
	if err := checkpoint.Write(s.opts.Path, checkpoint.Marker{Phase: checkpoint.PhaseSwapping, MaxRecid: s.maxRecid.Load()}); err != nil {
		return err
	}
	if err := s.vol.Close(); err != nil {
		return err
	}
	if err := sys.Rename(compactPath(s.opts.Path), s.opts.Path); err != nil {
		return fmt.Errorf("failed to swap compacted store: %w", err)
	}
	vol, err := s.factory(s.opts.Path, s.opts.volumeOptions())
	if err != nil {
		return err
	}
	if err := install(vol); err != nil {
		return err
	}
	return checkpoint.Remove(s.opts.Path)
}

// recoverCompaction finishes a swap interrupted by a crash. A marker in the
// building phase means the old store is still authoritative; its artifacts
// are left for DiscardCompactionArtifacts and block further compactions.
func recoverCompaction(path string, logger *slog.Logger) error {
	m, ok, err := checkpoint.Read(path)
	if err != nil || !ok {
		return err
	}
	if m.Phase == checkpoint.PhaseBuilding {
		logger.Warn("Found artifacts of an interrupted compaction", "marker", checkpoint.Path(path), "target", compactPath(path))
		return nil
	}
	if _, err := os.Stat(compactPath(path)); err == nil {
		logger.Info("Completing interrupted compaction swap", "target", compactPath(path))
		if err := sys.Rename(compactPath(path), path); err != nil {
			return fmt.Errorf("failed to complete compaction swap: %w", err)
		}
	}
	return checkpoint.Remove(path)
}

// DiscardCompactionArtifacts removes the marker and target file left by an
// interrupted compaction of the store at path.
func DiscardCompactionArtifacts(path string) error {
	return errors.Join(checkpoint.Remove(path), sys.Remove(compactPath(path)))
}
