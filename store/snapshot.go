package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
)

// Snapshot is a read-only view of a store at the moment it was taken. While
// a snapshot is open the store keeps the index values it overwrites and
// defers freeing the space of dead records, so the view stays readable.
type Snapshot struct {
	store    *StoreDirect
	maxRecid uint64
	// Pre-images by index offset, one map per segment, guarded by the
	// store's segment locks.
	preimages []map[int64]uint64
	closed    atomic.Bool
}

var _ Engine = (*Snapshot)(nil)

// Snapshot opens a read-only view of the store as of now.
func (s *StoreDirect) Snapshot() (*Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.lockAll()
	defer s.unlockAll()
	snap := &Snapshot{
		store:     s,
		maxRecid:  s.maxRecid.Load(),
		preimages: make([]map[int64]uint64, len(s.segments)),
	}
	for i := range snap.preimages {
		snap.preimages[i] = make(map[int64]uint64)
	}
	s.structLock.Lock()
	s.snapMu.Lock()
	s.snapshots[snap] = struct{}{}
	open := s.openSnaps.Add(1)
	s.snapMu.Unlock()
	s.structLock.Unlock()

	s.metrics.SnapshotsOpen.Set(int64(open))
	s.hooks.Trigger(context.Background(), hooks.NewPostCreateSnapshotEvent(hooks.PostCreateSnapshotPayload{OpenSnapshots: int(open)}))
	return snap, nil
}

// captureSnapshots hands an index value about to be overwritten to every
// open snapshot. Only the first value per offset is kept. Callers hold the
// segment write lock.
func (s *StoreDirect) captureSnapshots(seg int, off int64, old uint64) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	for snap := range s.snapshots {
		if _, ok := snap.preimages[seg][off]; !ok {
			snap.preimages[seg][off] = old
		}
	}
}

// closeAllSnapshots invalidates every open snapshot without releasing the
// deferred ranges. Callers hold every segment lock.
func (s *StoreDirect) closeAllSnapshots() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	for snap := range s.snapshots {
		snap.closed.Store(true)
		delete(s.snapshots, snap)
	}
	s.openSnaps.Store(0)
	s.metrics.SnapshotsOpen.Set(0)
}

func (sn *Snapshot) checkOpen() error {
	if sn.closed.Load() {
		return fmt.Errorf("snapshot: %w", core.ErrClosed)
	}
	return sn.store.checkOpen()
}

// Get returns the record as it was when the snapshot was taken.
func (sn *Snapshot) Get(recid core.Recid) ([]byte, error) {
	if err := sn.checkOpen(); err != nil {
		return nil, err
	}
	s := sn.store
	if recid == 0 || uint64(recid) > sn.maxRecid {
		return nil, fmt.Errorf("recid %d: %w", recid, core.ErrVoidAccess)
	}
	seg, off, err := s.locate(recid)
	if err != nil {
		return nil, err
	}
	s.segments[seg].RLock()
	defer s.segments[seg].RUnlock()
	if sn.closed.Load() {
		return nil, fmt.Errorf("snapshot: %w", core.ErrClosed)
	}
	v, ok := sn.preimages[seg][off]
	if !ok {
		if v, err = s.io.indexGet(seg, off); err != nil {
			return nil, err
		}
	}
	data, err := s.readValue(recid, v, off)
	return data, s.note(err)
}

// MaxRecid returns the highest recid visible in the snapshot.
func (sn *Snapshot) MaxRecid() core.Recid { return core.Recid(sn.maxRecid) }

func (sn *Snapshot) Put([]byte) (core.Recid, error) { return 0, errReadOnlySnapshot() }

func (sn *Snapshot) Update(core.Recid, []byte) error { return errReadOnlySnapshot() }

func (sn *Snapshot) Delete(core.Recid) error { return errReadOnlySnapshot() }

func (sn *Snapshot) Preallocate() (core.Recid, error) { return 0, errReadOnlySnapshot() }

func (sn *Snapshot) Commit() error { return errReadOnlySnapshot() }

func (sn *Snapshot) Rollback() error { return errReadOnlySnapshot() }

func (sn *Snapshot) Compact(context.Context) error { return errReadOnlySnapshot() }

func (sn *Snapshot) Snapshot() (*Snapshot, error) { return nil, errReadOnlySnapshot() }

func errReadOnlySnapshot() error {
	return core.WrongConfigf("snapshots are read-only")
}

// Close releases the snapshot. When the last snapshot closes, the space of
// records that died while it was open is freed.
func (sn *Snapshot) Close() error {
	if sn.closed.Swap(true) {
		return nil
	}
	s := sn.store
	s.lockAll()
	defer s.unlockAll()
	s.structLock.Lock()
	defer s.structLock.Unlock()
	s.snapMu.Lock()
	_, registered := s.snapshots[sn]
	delete(s.snapshots, sn)
	s.snapMu.Unlock()
	if !registered {
		return nil
	}
	open := s.openSnaps.Add(-1)
	s.metrics.SnapshotsOpen.Set(int64(open))
	if open > 0 || s.closed.Load() {
		return nil
	}
	return s.note(s.releaseDeferred())
}
