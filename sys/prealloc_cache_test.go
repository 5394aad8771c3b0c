package sys

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetPreallocCacheForTest() {
	preallocCache.Range(func(k, v any) bool {
		preallocCache.Delete(k)
		return true
	})
	preallocCacheHits.Store(0)
	preallocCacheMisses.Store(0)
}

func TestPreallocCacheCountersAndStoreLoad(t *testing.T) {
	resetPreallocCacheForTest()

	hits, misses := PreallocCacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)

	preallocCacheMiss()
	preallocCacheHit()
	preallocCacheHit()
	hits, misses = PreallocCacheStats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)

	const devID = uint64(0xABCD)
	_, found := preallocCacheLoad(devID)
	assert.False(t, found)

	preallocCacheStore(devID, false)
	allow, found := preallocCacheLoad(devID)
	assert.True(t, found)
	assert.False(t, allow)

	preallocCacheStore(devID, true)
	allow, found = preallocCacheLoad(devID)
	assert.True(t, found)
	assert.True(t, allow)
}

func TestPreallocate_KeepsVisibleSize(t *testing.T) {
	f, err := Create(filepath.Join(t.TempDir(), "prealloc.bin"))
	require.NoError(t, err)
	defer f.Close()

	err = Preallocate(f, 1<<20)
	if errors.Is(err, ErrPreallocNotSupported) {
		t.Skip("preallocation not supported here")
	}
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.NoError(t, Preallocate(f, 0))
}
