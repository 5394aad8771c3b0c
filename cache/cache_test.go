package cache

import (
	"expvar"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_PutGetEvict(t *testing.T) {
	var evicted []uint64
	c := NewLRUCache[uint64, []byte](3, func(k uint64, _ []byte) { evicted = append(evicted, k) })

	c.Put(1, []byte("one"))
	c.Put(2, []byte("two"))
	c.Put(3, []byte("three"))
	require.Equal(t, 3, c.Len())

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	// 2 is least recently used now.
	c.Put(4, []byte("four"))
	assert.Equal(t, []uint64{2}, evicted)
	_, ok = c.Get(2)
	assert.False(t, ok)

	c.Put(1, []byte("uno"))
	v, _ = c.Get(1)
	assert.Equal(t, []byte("uno"), v)
	assert.Equal(t, 3, c.Len())
}

func TestLRUCache_Remove(t *testing.T) {
	calls := 0
	c := NewLRUCache[string, int](2, func(string, int) { calls++ })
	c.Put("a", 1)
	c.Remove("a")
	c.Remove("missing")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, calls, "Remove does not report an eviction")
}

func TestLRUCache_Disabled(t *testing.T) {
	c := NewLRUCache[string, int](0, nil)
	c.Put("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRUCache_ClearAndMetrics(t *testing.T) {
	hits, misses := new(expvar.Int), new(expvar.Int)
	cleared := 0
	c := NewLRUCache[int, string](10, func(int, string) { cleared++ })
	c.SetMetrics(hits, misses)
	assert.Zero(t, c.GetHitRate())

	c.Put(1, "x")
	c.Get(1)
	c.Get(2)
	assert.Equal(t, int64(1), hits.Value())
	assert.Equal(t, int64(1), misses.Value())
	assert.InDelta(t, 0.5, c.GetHitRate(), 1e-9)

	c.Clear()
	assert.Equal(t, 1, cleared)
	assert.Zero(t, c.Len())
}

func TestLRUCache_Concurrent(t *testing.T) {
	c := NewLRUCache[string, int](64, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("%d-%d", g, i%100)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
