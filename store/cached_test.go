package store

import (
	"testing"

	"github.com/INLOpen/recstore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCached_HitsAndInvalidation(t *testing.T) {
	s := openDirect(t, testOptions(""))
	c := NewCached(s, 8)

	recid, err := c.Put([]byte("first"))
	require.NoError(t, err)
	got, err := c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
	_, err = c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.metrics.CacheMisses.Value())
	assert.Equal(t, int64(1), s.metrics.CacheHits.Value())
	st := c.Stats()
	assert.Equal(t, 1, st.CachedRecords)
	assert.InDelta(t, 0.5, st.CacheHitRate, 1e-9)
	assert.Equal(t, recid, st.MaxRecid)

	require.NoError(t, c.Update(recid, []byte("second")))
	got, err = c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	require.NoError(t, c.Delete(recid))
	_, err = c.Get(recid)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCached_ReturnsCopies(t *testing.T) {
	c := NewCached(openDirect(t, testOptions("")), 8)
	recid, err := c.Put([]byte("abc"))
	require.NoError(t, err)

	got, err := c.Get(recid)
	require.NoError(t, err)
	got[0] = 'X'
	got, err = c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	got[1] = 'Y'
	got, err = c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestCached_OverSnapshotCountsPrivately(t *testing.T) {
	s := openDirect(t, testOptions(""))
	recid, err := s.Put([]byte("frozen"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	c := NewCached(snap, 4)
	for i := 0; i < 4; i++ {
		got, err := c.Get(recid)
		require.NoError(t, err)
		assert.Equal(t, []byte("frozen"), got)
	}
	st := c.Stats()
	assert.InDelta(t, 0.75, st.CacheHitRate, 1e-9)
	assert.Equal(t, 1, st.CachedRecords)
	assert.Zero(t, s.metrics.CacheHits.Value())
}

func TestCached_NullAndEmpty(t *testing.T) {
	c := NewCached(openDirect(t, testOptions("")), 8)
	null, err := c.Put(nil)
	require.NoError(t, err)
	empty, err := c.Put([]byte{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := c.Get(null)
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = c.Get(empty)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestCached_RollbackClears(t *testing.T) {
	w := openWAL(t, testOptions(""))
	c := NewCached(w, 8)
	recid, err := c.Put([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, c.Commit())

	// Write through the inner store so the cache is not invalidated.
	_, err = c.Get(recid)
	require.NoError(t, err)
	require.NoError(t, w.Update(recid, []byte("pending")))
	got, err := c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), got)

	require.NoError(t, c.Rollback())
	got, err = c.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), got)
	assert.Same(t, w, c.Unwrap())
}

func TestOpen_WrapsInCache(t *testing.T) {
	opts := testOptions("")
	opts.Transactions = true
	opts.CacheCapacity = 4
	e, err := Open(opts)
	require.NoError(t, err)
	defer e.Close()
	c, ok := e.(*Cached)
	require.True(t, ok)
	_, ok = c.Unwrap().(*StoreWAL)
	assert.True(t, ok)

	opts.Transactions = false
	opts.CacheCapacity = 0
	e, err = Open(opts)
	require.NoError(t, err)
	defer e.Close()
	_, ok = e.(*StoreDirect)
	assert.True(t, ok)
}
