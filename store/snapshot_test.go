package store

import (
	"context"
	"testing"

	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_SeesStateAtCreation(t *testing.T) {
	engineKinds(t, func(t *testing.T, e Engine) {
		a, err := e.Put([]byte("a1"))
		require.NoError(t, err)
		b, err := e.Put(make([]byte, 70_000))
		require.NoError(t, err)
		require.NoError(t, e.Commit())

		snap, err := e.Snapshot()
		require.NoError(t, err)
		defer snap.Close()

		require.NoError(t, e.Update(a, []byte("a2, somewhat longer than before")))
		require.NoError(t, e.Delete(b))
		c, err := e.Put([]byte("c"))
		require.NoError(t, err)

		got, err := snap.Get(a)
		require.NoError(t, err)
		assert.Equal(t, []byte("a1"), got)
		got, err = snap.Get(b)
		require.NoError(t, err)
		assert.Len(t, got, 70_000)
		_, err = snap.Get(c)
		require.ErrorIs(t, err, core.ErrVoidAccess)
		assert.Less(t, snap.MaxRecid(), c)

		got, err = e.Get(a)
		require.NoError(t, err)
		assert.Equal(t, []byte("a2, somewhat longer than before"), got)
		_, err = e.Get(b)
		require.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestSnapshot_IsReadOnly(t *testing.T) {
	s := openDirect(t, testOptions(""))
	recid, err := s.Put([]byte("x"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	_, err = snap.Put([]byte("y"))
	require.ErrorIs(t, err, core.ErrWrongConfig)
	require.ErrorIs(t, snap.Update(recid, nil), core.ErrWrongConfig)
	require.ErrorIs(t, snap.Delete(recid), core.ErrWrongConfig)
	_, err = snap.Preallocate()
	require.ErrorIs(t, err, core.ErrWrongConfig)
	require.ErrorIs(t, snap.Commit(), core.ErrWrongConfig)
	require.ErrorIs(t, snap.Compact(context.Background()), core.ErrWrongConfig)
	_, err = snap.Snapshot()
	require.ErrorIs(t, err, core.ErrWrongConfig)
}

func TestSnapshot_DefersFreedSpace(t *testing.T) {
	s := openDirect(t, testOptions(""))
	var recids []core.Recid
	for i := 0; i < 10; i++ {
		recid, err := s.Put(make([]byte, 1000))
		require.NoError(t, err)
		recids = append(recids, recid)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().OpenSnapshots)
	freeBefore := s.Stats().FreeBytes

	for _, recid := range recids {
		require.NoError(t, s.Delete(recid))
	}
	rep, err := s.Verify(context.Background())
	require.NoError(t, err)
	assert.Positive(t, rep.DeferredBytes)
	assert.Equal(t, freeBefore, s.Stats().FreeBytes)

	require.NoError(t, snap.Close())
	require.NoError(t, snap.Close())
	rep, err = s.Verify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.DeferredBytes)
	assert.Greater(t, s.Stats().FreeBytes, freeBefore)
	assert.Zero(t, s.Stats().OpenSnapshots)

	_, err = snap.Get(recids[0])
	require.ErrorIs(t, err, core.ErrClosed)
}

func TestSnapshot_LastCloseReleases(t *testing.T) {
	s := openDirect(t, testOptions(""))
	recid, err := s.Put(make([]byte, 500))
	require.NoError(t, err)
	first, err := s.Snapshot()
	require.NoError(t, err)
	second, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Delete(recid))

	require.NoError(t, first.Close())
	rep, err := s.Verify(context.Background())
	require.NoError(t, err)
	assert.Positive(t, rep.DeferredBytes)
	got, err := second.Get(recid)
	require.NoError(t, err)
	assert.Len(t, got, 500)

	require.NoError(t, second.Close())
	rep, err = s.Verify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.DeferredBytes)
}

func TestSnapshot_BlocksCompaction(t *testing.T) {
	s := openDirect(t, testOptions(""))
	_, err := s.Put([]byte("x"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.ErrorIs(t, s.Compact(context.Background()), core.ErrWrongConfig)
	require.NoError(t, snap.Close())
	require.NoError(t, s.Compact(context.Background()))
}

func TestSnapshot_RollbackClosesSnapshots(t *testing.T) {
	w := openWAL(t, testOptions(""))
	recid, err := w.Put([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	snap, err := w.Snapshot()
	require.NoError(t, err)
	require.NoError(t, w.Update(recid, []byte("pending")))

	require.NoError(t, w.Rollback())
	_, err = snap.Get(recid)
	require.ErrorIs(t, err, core.ErrClosed)
	require.NoError(t, snap.Close())
	assert.Zero(t, w.Stats().OpenSnapshots)
	_, err = w.Verify(context.Background())
	require.NoError(t, err)
}

func TestSnapshot_StoreCloseInvalidates(t *testing.T) {
	s, err := OpenDirect(testOptions(""))
	require.NoError(t, err)
	recid, err := s.Put([]byte("x"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = snap.Get(recid)
	require.ErrorIs(t, err, core.ErrClosed)
	require.NoError(t, snap.Close())
}

type fileStore interface {
	Engine
	verifier
	Stats() Stats
}

// reopenable opens the direct and the transactional flavour of a file store.
var reopenable = []struct {
	name string
	open func(opts Options) (fileStore, error)
}{
	{"direct", func(opts Options) (fileStore, error) { return OpenDirect(opts) }},
	{"wal", func(opts Options) (fileStore, error) { return OpenWAL(opts) }},
}

// deleteUnderSnapshot stores a 5000-byte record followed by a small one,
// takes a snapshot and deletes the large record, so its space is held back.
func deleteUnderSnapshot(t *testing.T, e Engine) *Snapshot {
	t.Helper()
	recid, err := e.Put(testutil.RandomBytes(1, 5000))
	require.NoError(t, err)
	_, err = e.Put([]byte("keeps the freed range off the cursor"))
	require.NoError(t, err)
	require.NoError(t, e.Commit())
	sn, err := e.Snapshot()
	require.NoError(t, err)
	require.NoError(t, e.Delete(recid))
	require.NoError(t, e.Commit())
	return sn
}

func requireReopenedClean(t *testing.T, open func(Options) (fileStore, error), path string) {
	t.Helper()
	e, err := open(testOptions(path))
	require.NoError(t, err)
	defer e.Close()
	_, err = e.Verify(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, e.Stats().FreeBytes, int64(5008))
}

func TestSnapshot_ReleasedSpaceSurvivesStoreClose(t *testing.T) {
	for _, tc := range reopenable {
		t.Run(tc.name, func(t *testing.T) {
			path := testutil.TempStorePath(t)
			e, err := tc.open(testOptions(path))
			require.NoError(t, err)
			sn := deleteUnderSnapshot(t, e)
			require.NoError(t, sn.Close())
			require.NoError(t, e.Close())

			requireReopenedClean(t, tc.open, path)
		})
	}
}

func TestSnapshot_OpenAtStoreCloseReleasesSpace(t *testing.T) {
	for _, tc := range reopenable {
		t.Run(tc.name, func(t *testing.T) {
			path := testutil.TempStorePath(t)
			e, err := tc.open(testOptions(path))
			require.NoError(t, err)
			sn := deleteUnderSnapshot(t, e)
			require.NoError(t, e.Close())
			require.NoError(t, sn.Close())

			requireReopenedClean(t, tc.open, path)
		})
	}
}

func TestSnapshot_RollbackAfterClose(t *testing.T) {
	path := testutil.TempStorePath(t)
	w, err := OpenWAL(testOptions(path))
	require.NoError(t, err)
	sn := deleteUnderSnapshot(t, w)
	data := testutil.RandomBytes(2, 5000)
	pending, err := w.Put(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	// Released inside a transaction that is then rolled back: the space of
	// the earlier delete stays free, the record deleted in it survives.
	require.NoError(t, w.Delete(pending))
	require.NoError(t, sn.Close())
	require.NoError(t, w.Rollback())

	got, err := w.Get(pending)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	_, err = w.Verify(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, w.Stats().FreeBytes, int64(5008))
	require.NoError(t, w.Close())

	requireReopenedClean(t, reopenable[1].open, path)
}

func TestSnapshot_CreationHook(t *testing.T) {
	rec := &eventRecorder{}
	hm := hooks.NewHookManager(nil)
	hm.Register(hooks.EventPostCreateSnapshot, rec)
	opts := testOptions("")
	opts.HookManager = hm
	s := openDirect(t, opts)

	first, err := s.Snapshot()
	require.NoError(t, err)
	defer first.Close()
	second, err := s.Snapshot()
	require.NoError(t, err)
	defer second.Close()

	got := rec.payloads()
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].(hooks.PostCreateSnapshotPayload).OpenSnapshots)
	assert.Equal(t, int64(2), s.metrics.SnapshotsOpen.Value())
}
