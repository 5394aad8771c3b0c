package store

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/hooks/listeners"
	"github.com/INLOpen/recstore/internal/testutil"
	"github.com/INLOpen/recstore/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWAL_CommitSurvivesReopen(t *testing.T) {
	path := testutil.TempStorePath(t)
	w, err := OpenWAL(testOptions(path))
	require.NoError(t, err)
	recid, err := w.Put([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
	testutil.RequireNoWALFiles(t, path)

	w = openWAL(t, testOptions(path))
	got, err := w.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}

func TestStoreWAL_CrashBeforeCommitLosesTransaction(t *testing.T) {
	path := testutil.TempStorePath(t)
	opts := testOptions(path)
	opts.ReplayEveryTx = 100
	w, err := OpenWAL(opts)
	require.NoError(t, err)
	kept, err := w.Put([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	var lost []core.Recid
	for i := 0; i < 20; i++ {
		recid, err := w.Put(testutil.RandomBytes(int64(i), 100*i))
		require.NoError(t, err)
		lost = append(lost, recid)
	}
	require.NoError(t, w.Update(kept, []byte("overwritten")))
	require.NoError(t, w.crash())

	w = openWAL(t, opts)
	got, err := w.Get(kept)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), got)
	for _, recid := range lost {
		_, err := w.Get(recid)
		require.ErrorIs(t, err, core.ErrVoidAccess)
	}
	_, err = w.Verify(context.Background())
	require.NoError(t, err)
}

func TestStoreWAL_CrashAfterCommitRecovers(t *testing.T) {
	path := testutil.TempStorePath(t)
	opts := testOptions(path)
	opts.ReplayEveryTx = 100
	w, err := OpenWAL(opts)
	require.NoError(t, err)

	want := map[core.Recid][]byte{}
	for tx := 0; tx < 3; tx++ {
		for i := 0; i < 10; i++ {
			data := testutil.RandomBytes(int64(tx*100+i), 50+i*1000)
			recid, err := w.Put(data)
			require.NoError(t, err)
			want[recid] = data
		}
		require.NoError(t, w.Commit())
	}
	require.NoError(t, w.crash())
	// Creating the store commits once more.
	files, err := testutil.ListWALFiles(path)
	require.NoError(t, err)
	require.Len(t, files, 4)

	rec := &eventRecorder{}
	hm := hooks.NewHookManager(nil)
	hm.Register(hooks.EventPostReplay, rec)
	opts.HookManager = hm
	w = openWAL(t, opts)
	testutil.RequireNoWALFiles(t, path)
	for recid, data := range want {
		got, err := w.Get(recid)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
	require.Len(t, rec.payloads(), 1)
	replay := rec.payloads()[0].(hooks.PostReplayPayload)
	assert.True(t, replay.Recovery)
	assert.Equal(t, 4, replay.Files)
}

func TestStoreWAL_Rollback(t *testing.T) {
	w := openWAL(t, testOptions(""))
	a, err := w.Put([]byte("a"))
	require.NoError(t, err)
	c, err := w.Put(testutil.RandomBytes(1, 100_000))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	before := w.Stats()

	require.NoError(t, w.Update(a, []byte("a2")))
	b, err := w.Put([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, w.Delete(c))
	require.NoError(t, w.Rollback())

	got, err := w.Get(a)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
	_, err = w.Get(b)
	require.ErrorIs(t, err, core.ErrVoidAccess)
	got, err = w.Get(c)
	require.NoError(t, err)
	assert.Equal(t, testutil.RandomBytes(1, 100_000), got)

	after := w.Stats()
	assert.Equal(t, before.StoreSize, after.StoreSize)
	assert.Equal(t, before.FreeBytes, after.FreeBytes)
	assert.Equal(t, before.MaxRecid, after.MaxRecid)
	_, err = w.Verify(context.Background())
	require.NoError(t, err)
}

func TestStoreWAL_PeriodicReplay(t *testing.T) {
	path := testutil.TempStorePath(t)
	opts := testOptions(path)
	opts.ReplayEveryTx = 3
	w := openWAL(t, opts)
	assert.Equal(t, 1, w.Stats().WALFiles)

	_, err := w.Put([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	assert.Equal(t, 2, w.Stats().WALFiles)

	_, err = w.Put([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	assert.Equal(t, 0, w.Stats().WALFiles)
	testutil.RequireNoWALFiles(t, path)
	assert.Equal(t, int64(1), w.s.metrics.WALReplayTotal.Value())
}

func TestStoreWAL_PreCommitVeto(t *testing.T) {
	hm := hooks.NewHookManager(nil)
	hm.Register(hooks.EventPreCommit, listeners.NewTxSizeGuardListener(1000))
	opts := testOptions("")
	opts.HookManager = hm
	w := openWAL(t, opts)

	recid, err := w.Put(make([]byte, 5000))
	require.NoError(t, err)
	require.ErrorIs(t, w.Commit(), listeners.ErrTransactionTooLarge)
	assert.Equal(t, int64(1), w.s.metrics.CommitErrors.Value())

	// The vetoed transaction is still open.
	_, err = w.Get(recid)
	require.NoError(t, err)
	require.NoError(t, w.Rollback())
	_, err = w.Get(recid)
	require.ErrorIs(t, err, core.ErrVoidAccess)

	_, err = w.Put([]byte("small"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
}

func TestStoreWAL_Hooks(t *testing.T) {
	rec := &eventRecorder{}
	hm := hooks.NewHookManager(nil)
	for _, ev := range []hooks.EventType{hooks.EventPreCommit, hooks.EventPostCommit, hooks.EventPostRollback} {
		hm.Register(ev, rec)
	}
	opts := testOptions("")
	opts.HookManager = hm
	w := openWAL(t, opts)
	rec.events = nil

	_, err := w.Put([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	_, err = w.Put([]byte("y"))
	require.NoError(t, err)
	require.NoError(t, w.Rollback())

	got := rec.payloads()
	require.Len(t, got, 3)
	pre := got[0].(hooks.PreCommitPayload)
	assert.Positive(t, pre.DirtyIndexEntries)
	post := got[1].(hooks.PostCommitPayload)
	assert.Equal(t, uint64(RecidLastReserved)+1, post.MaxRecid)
	rb := got[2].(hooks.PostRollbackPayload)
	assert.Positive(t, rb.DiscardedIndexEntries)
}

func TestStoreWAL_ReadOnlyRefusesPendingLog(t *testing.T) {
	path := testutil.TempStorePath(t)
	opts := testOptions(path)
	opts.ReplayEveryTx = 100
	w, err := OpenWAL(opts)
	require.NoError(t, err)
	_, err = w.Put([]byte("pending"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.crash())

	ro := opts
	ro.ReadOnly = true
	_, err = OpenWAL(ro)
	require.ErrorIs(t, err, core.ErrWrongConfig)

	w = openWAL(t, opts)
	require.NoError(t, w.Close())
	r := openWAL(t, ro)
	got, err := r.Get(RecidLastReserved + 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), got)
	_, err = r.Put([]byte("no"))
	require.ErrorIs(t, err, core.ErrWrongConfig)
}

func TestStoreWAL_CloseDiscardsOpenTransaction(t *testing.T) {
	path := testutil.TempStorePath(t)
	w, err := OpenWAL(testOptions(path))
	require.NoError(t, err)
	recid, err := w.Put([]byte("never committed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Commit(), core.ErrClosed)

	w = openWAL(t, testOptions(path))
	_, err = w.Get(recid)
	require.ErrorIs(t, err, core.ErrVoidAccess)
}

func TestStoreWAL_ConcurrentWritersAndCommits(t *testing.T) {
	opts := testOptions(testutil.TempStorePath(t))
	opts.ReplayEveryTx = 3
	w := openWAL(t, opts)

	var wg sync.WaitGroup
	var mu sync.Mutex
	want := map[core.Recid][]byte{}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				data := testutil.RandomBytes(int64(g*1000+i), 20+i*7)
				recid, err := w.Put(data)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				want[recid] = data
				mu.Unlock()
				if i%10 == 0 {
					assert.NoError(t, w.Commit())
				}
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Commit())
	for recid, data := range want {
		got, err := w.Get(recid)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
	_, err := w.Verify(context.Background())
	require.NoError(t, err)
}

func TestStoreWAL_FreedSpaceIsCleared(t *testing.T) {
	opts := testOptions(testutil.TempStorePath(t))
	opts.ReplayEveryTx = 1
	w := openWAL(t, opts)
	main := volume.Unwrap(w.s.vol)

	old, err := w.Put(bytes.Repeat([]byte{0xAA}, 1000))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	seg, off, err := w.s.locate(old)
	require.NoError(t, err)
	v, err := w.s.io.indexGet(seg, off)
	require.NoError(t, err)
	e, err := decodeIndex(v, off)
	require.NoError(t, err)
	raw := make([]byte, codec.RoundUp16(int64(e.size)))

	require.NoError(t, w.Delete(old))
	require.NoError(t, w.Commit())
	require.NoError(t, volume.GetDataOverlap(main, e.offset, raw))
	assert.Equal(t, -1, bytes.IndexByte(raw, 0xAA))

	recid, err := w.Put(bytes.Repeat([]byte{0x01}, 995))
	require.NoError(t, err)
	assert.Equal(t, old, recid)
	require.NoError(t, w.Commit())
	v, err = w.s.io.indexGet(seg, off)
	require.NoError(t, err)
	reused, err := decodeIndex(v, off)
	require.NoError(t, err)
	assert.Equal(t, e.offset, reused.offset)

	require.NoError(t, volume.GetDataOverlap(main, e.offset, raw))
	assert.Equal(t, bytes.Repeat([]byte{0x01}, 995), raw[:995])
	assert.Equal(t, make([]byte, len(raw)-995), raw[995:])
}

func TestStoreWAL_FreedAndReusedInOneTransaction(t *testing.T) {
	opts := testOptions(testutil.TempStorePath(t))
	opts.ReplayEveryTx = 1
	w := openWAL(t, opts)
	main := volume.Unwrap(w.s.vol)

	old, err := w.Put(bytes.Repeat([]byte{0xAA}, 1000))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	seg, off, err := w.s.locate(old)
	require.NoError(t, err)
	v, err := w.s.io.indexGet(seg, off)
	require.NoError(t, err)
	e, err := decodeIndex(v, off)
	require.NoError(t, err)

	// The clear of the freed range must not wipe the record reusing it.
	require.NoError(t, w.Delete(old))
	recid, err := w.Put(bytes.Repeat([]byte{0x02}, 995))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	assert.Zero(t, w.Stats().WALFiles)

	got, err := w.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x02}, 995), got)
	raw := make([]byte, codec.RoundUp16(int64(e.size)))
	require.NoError(t, volume.GetDataOverlap(main, e.offset, raw))
	assert.Equal(t, bytes.Repeat([]byte{0x02}, 995), raw[:995])
	assert.Equal(t, make([]byte, len(raw)-995), raw[995:])
}
