package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/volume"
	"github.com/INLOpen/recstore/wal"
	"go.opentelemetry.io/otel/attribute"
)

// StoreWAL is a transactional record store. Changes are buffered in memory
// until Commit writes them to a sealed log file; every ReplayEveryTx commits
// the log is folded into the store file and deleted. A crash loses at most
// the uncommitted transaction.
type StoreWAL struct {
	s   *StoreDirect
	io  *walIO
	log *wal.WAL

	// Guarded by the commit lock.
	txCount int
}

var _ Engine = (*StoreWAL)(nil)

// OpenWAL opens or creates a transactional store. Log files left by a
// crash are replayed before the store is used.
func OpenWAL(opts Options) (*StoreWAL, error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	s.walMode = true
	log, err := wal.Open(wal.Options{
		Path:          s.opts.Path,
		Factory:       s.factory,
		VolumeOptions: volume.Options{Preallocate: s.opts.Preallocate, Logger: s.opts.Logger},
		Features:      s.features,
		SyncMode:      s.opts.SyncMode,
		BytesWritten:  s.metrics.WALBytesWrittenTotal,
		Logger:        s.opts.Logger,
		HookManager:   s.hooks,
	})
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	w := &StoreWAL{s: s, log: log}
	if err := w.open(); err != nil {
		log.Close()
		if w.io != nil {
			w.io.close()
		}
		s.closeFiles()
		return nil, err
	}
	s.logger.Info("Transactional store opened", "store_size", s.storeSize.Load(), "max_recid", s.maxRecid.Load())
	return w, nil
}

func (w *StoreWAL) open() error {
	s := w.s
	if w.log.HasPending() {
		if s.opts.ReadOnly {
			return core.WrongConfigf("store %s has unreplayed log files; open it writable first", s.opts.Path)
		}
		if err := w.replay(context.Background(), true); err != nil {
			return err
		}
	}
	s.vol = volume.ReadOnly(s.vol)
	io, err := newWALIO(s.vol, w.log, len(s.segments))
	if err != nil {
		return err
	}
	w.io = io
	s.io = io
	fresh, err := s.isFresh()
	if err != nil {
		return err
	}
	if !fresh {
		return s.load()
	}
	if err := s.create(); err != nil {
		return err
	}
	_, err = w.commitLocked(context.Background())
	return err
}

// replay folds every sealed log file into the main volume and deletes the
// log. Callers hold every lock, or own the store during open.
func (w *StoreWAL) replay(ctx context.Context, recovery bool) error {
	s := w.s
	ctx, span := s.tracer.Start(ctx, "StoreWAL.Replay")
	defer span.End()
	start := time.Now()

	main := volume.Unwrap(s.vol)
	stats, err := w.log.Replay(main)
	if err == nil && s.storeSize.Load() > 0 {
		err = main.EnsureAvailable(s.storeSize.Load())
	}
	if err == nil {
		err = main.Sync()
	}
	if err == nil {
		err = w.log.Destroy()
	}
	if err != nil {
		span.RecordError(err)
		return s.note(fmt.Errorf("wal replay failed: %w", err))
	}
	if w.io != nil {
		w.io.replayed()
	}
	w.txCount = 0

	d := time.Since(start)
	s.metrics.WALReplayTotal.Add(1)
	s.metrics.WALReplayedInstrsTotal.Add(stats.Instructions)
	s.metrics.WALReplayDuration.Set(d.Seconds())
	span.SetAttributes(attribute.Int("wal.files", stats.Files), attribute.Int64("wal.instructions", stats.Instructions), attribute.Bool("wal.recovery", recovery))
	if recovery {
		s.logger.Info("Recovered store from log", "files", stats.Files, "discarded", stats.Discarded, "instructions", stats.Instructions)
	}
	s.hooks.Trigger(ctx, hooks.NewPostReplayEvent(hooks.PostReplayPayload{
		Files:        stats.Files,
		Instructions: stats.Instructions,
		Recovery:     recovery,
		Duration:     d,
	}))
	return nil
}

// commitLocked logs and seals the transaction. Callers hold every lock.
func (w *StoreWAL) commitLocked(ctx context.Context) (bool, error) {
	s := w.s
	if err := s.sealHeader(); err != nil {
		return false, err
	}
	data, pages, err := w.io.logTransaction()
	if err != nil {
		return false, err
	}
	if err := w.log.Commit(); err != nil {
		return false, err
	}
	if err := w.io.promote(data, pages); err != nil {
		return false, err
	}
	s.deferredMark = len(s.deferred)
	s.txReleased = nil
	w.txCount++
	if w.txCount < s.opts.ReplayEveryTx {
		return false, nil
	}
	return true, w.replay(ctx, false)
}

// Commit makes the current transaction durable. A PreCommit hook may veto
// it, leaving the transaction open. Hook listeners run with the store
// locked and must not call back into it.
func (w *StoreWAL) Commit() error {
	s := w.s
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.opts.ReadOnly {
		return nil
	}
	ctx, span := s.tracer.Start(context.Background(), "StoreWAL.Commit")
	defer span.End()
	start := time.Now()

	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	s.lockAll()
	s.structLock.Lock()
	entries, size := w.io.dirtyStats()
	span.SetAttributes(attribute.Int("tx.index_entries", entries), attribute.Int64("tx.bytes", size))
	err := s.hooks.Trigger(ctx, hooks.NewPreCommitEvent(hooks.PreCommitPayload{DirtyIndexEntries: entries, DirtyBytes: size}))
	var replayed bool
	if err == nil {
		replayed, err = w.commitLocked(ctx)
	}
	payload := hooks.PostCommitPayload{
		StoreSize: s.storeSize.Load(),
		FreeBytes: s.freeBytes,
		MaxRecid:  s.maxRecid.Load(),
		Replayed:  replayed,
	}
	s.structLock.Unlock()
	s.unlockAll()

	if err != nil {
		s.metrics.CommitErrors.Add(1)
		span.RecordError(err)
		return fmt.Errorf("commit failed: %w", err)
	}
	payload.Duration = time.Since(start)
	s.metrics.CommitTotal.Add(1)
	observeLatency(s.metrics.CommitLatencyHist, payload.Duration)
	s.hooks.Trigger(ctx, hooks.NewPostCommitEvent(payload))
	return nil
}

// Rollback discards the current transaction. Open snapshots are closed,
// since they may refer to discarded changes.
func (w *StoreWAL) Rollback() error {
	s := w.s
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	s.lockAll()
	entries, _ := w.io.dirtyStats()
	err := w.rollbackLocked()
	s.unlockAll()
	if err != nil {
		return s.note(fmt.Errorf("rollback failed: %w", err))
	}
	s.metrics.RollbackTotal.Add(1)
	s.logger.Debug("Transaction rolled back", "index_entries", entries)
	s.hooks.Trigger(context.Background(), hooks.NewPostRollbackEvent(hooks.PostRollbackPayload{DiscardedIndexEntries: entries}))
	return nil
}

// rollbackLocked restores the last committed state. Callers hold the commit
// lock and every segment lock.
func (w *StoreWAL) rollbackLocked() error {
	s := w.s
	s.closeAllSnapshots()
	s.structLock.Lock()
	defer s.structLock.Unlock()
	if err := w.io.discard(); err != nil {
		return err
	}
	// Frees of this transaction are void; frees released early come back.
	s.deferred = append(s.deferred[:s.deferredMark:s.deferredMark], s.txReleased...)
	s.txReleased = nil
	s.deferredMark = len(s.deferred)
	if err := s.reloadState(); err != nil {
		return err
	}
	return s.releaseDeferred()
}

// Close replays committed transactions into the store file and releases it.
// An open transaction is discarded with a warning; space freed while
// snapshots were open is still returned to the store.
func (w *StoreWAL) Close() error {
	s := w.s
	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.lockAll()
	var errs []error
	if !s.opts.ReadOnly {
		errs = append(errs, w.settleLocked())
	}
	s.structLock.Lock()
	if !s.opts.ReadOnly && w.log.FileCount() > 0 {
		errs = append(errs, w.replay(context.Background(), false))
	}
	s.closed.Store(true)
	s.structLock.Unlock()
	s.unlockAll()

	errs = append(errs, w.log.Close(), w.io.close())
	return s.finishClose(errors.Join(errs...))
}

// settleLocked discards the open transaction and commits the space still
// held back for snapshots, which are closed. Callers hold the commit lock
// and every segment lock.
func (w *StoreWAL) settleLocked() error {
	s := w.s
	if entries, size := w.io.dirtyStats(); entries > 0 {
		s.logger.Warn("Discarding uncommitted transaction on close", "index_entries", entries, "bytes", size)
	}
	if err := w.rollbackLocked(); err != nil {
		return err
	}
	s.structLock.Lock()
	defer s.structLock.Unlock()
	dirty, err := w.io.dirty()
	if err != nil || !dirty {
		return err
	}
	_, err = w.commitLocked(context.Background())
	return err
}

// Put stores data under a new recid in the current transaction.
func (w *StoreWAL) Put(data []byte) (core.Recid, error) { return w.s.Put(data) }

// Get reads a record, including changes of the current transaction.
func (w *StoreWAL) Get(recid core.Recid) ([]byte, error) { return w.s.Get(recid) }

func (w *StoreWAL) Update(recid core.Recid, data []byte) error { return w.s.Update(recid, data) }

func (w *StoreWAL) Delete(recid core.Recid) error { return w.s.Delete(recid) }

func (w *StoreWAL) Preallocate() (core.Recid, error) { return w.s.Preallocate() }

func (w *StoreWAL) Snapshot() (*Snapshot, error) { return w.s.Snapshot() }

func (w *StoreWAL) MaxRecid() core.Recid { return w.s.MaxRecid() }

// Stats includes the number of log files not yet replayed.
func (w *StoreWAL) Stats() Stats {
	st := w.s.Stats()
	st.WALFiles = w.log.FileCount()
	return st
}
