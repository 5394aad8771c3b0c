package store

import (
	"bytes"
	"context"
	"expvar"
	"sync"

	"github.com/INLOpen/recstore/cache"
	"github.com/INLOpen/recstore/core"
)

const cachedStripes = 16

// Cached keeps recently read records of an engine in an LRU cache. Updates
// and deletes invalidate their entry; rollback clears the cache.
type Cached struct {
	engine Engine
	cache  cache.Interface[core.Recid, []byte]
	// Striped by recid so a fill cannot race an update of the same record.
	stripes [cachedStripes]sync.Mutex
}

var _ Engine = (*Cached)(nil)

// NewCached wraps engine with a cache of capacity records. Hits and misses
// are counted in the engine's metrics when it has any, else privately.
func NewCached(engine Engine, capacity int) *Cached {
	c := &Cached{
		engine: engine,
		cache:  cache.NewLRUCache[core.Recid, []byte](capacity, nil),
	}
	hits, misses := new(expvar.Int), new(expvar.Int)
	if m := metricsOf(engine); m != nil {
		hits, misses = m.CacheHits, m.CacheMisses
	}
	c.cache.SetMetrics(hits, misses)
	return c
}

func metricsOf(e Engine) *Metrics {
	switch v := e.(type) {
	case *StoreDirect:
		return v.metrics
	case *StoreWAL:
		return v.s.metrics
	}
	return nil
}

func (c *Cached) stripe(recid core.Recid) *sync.Mutex {
	return &c.stripes[segmentFor(recid, cachedStripes)]
}

// Unwrap returns the wrapped engine.
func (c *Cached) Unwrap() Engine { return c.engine }

func (c *Cached) Put(data []byte) (core.Recid, error) {
	return c.engine.Put(data)
}

// Get serves the record from the cache, filling it on a miss. The returned
// slice is the caller's to modify.
func (c *Cached) Get(recid core.Recid) ([]byte, error) {
	mu := c.stripe(recid)
	mu.Lock()
	defer mu.Unlock()
	if v, ok := c.cache.Get(recid); ok {
		return cloneRecord(v), nil
	}
	v, err := c.engine.Get(recid)
	if err != nil {
		return nil, err
	}
	c.cache.Put(recid, cloneRecord(v))
	return v, nil
}

func (c *Cached) Update(recid core.Recid, data []byte) error {
	mu := c.stripe(recid)
	mu.Lock()
	defer mu.Unlock()
	c.cache.Remove(recid)
	return c.engine.Update(recid, data)
}

func (c *Cached) Delete(recid core.Recid) error {
	mu := c.stripe(recid)
	mu.Lock()
	defer mu.Unlock()
	c.cache.Remove(recid)
	return c.engine.Delete(recid)
}

func (c *Cached) Preallocate() (core.Recid, error) { return c.engine.Preallocate() }

func (c *Cached) Commit() error { return c.engine.Commit() }

func (c *Cached) Rollback() error {
	c.lockStripes()
	defer c.unlockStripes()
	c.cache.Clear()
	return c.engine.Rollback()
}

// Compact keeps the cache: recids and contents survive compaction.
func (c *Cached) Compact(ctx context.Context) error { return c.engine.Compact(ctx) }

func (c *Cached) Snapshot() (*Snapshot, error) { return c.engine.Snapshot() }

func (c *Cached) MaxRecid() core.Recid { return c.engine.MaxRecid() }

// Stats returns the wrapped store's summary with the cache occupancy and
// hit rate filled in.
func (c *Cached) Stats() Stats {
	var st Stats
	if s, ok := c.engine.(interface{ Stats() Stats }); ok {
		st = s.Stats()
	}
	st.CachedRecords = c.cache.Len()
	st.CacheHitRate = c.cache.GetHitRate()
	return st
}

func (c *Cached) Close() error {
	c.lockStripes()
	defer c.unlockStripes()
	c.cache.Clear()
	return c.engine.Close()
}

func (c *Cached) lockStripes() {
	for i := range c.stripes {
		c.stripes[i].Lock()
	}
}

func (c *Cached) unlockStripes() {
	for i := len(c.stripes) - 1; i >= 0; i-- {
		c.stripes[i].Unlock()
	}
}

// cloneRecord copies a record, keeping nil (null) and empty apart.
func cloneRecord(v []byte) []byte {
	if v == nil {
		return nil
	}
	return bytes.Clone(v)
}
