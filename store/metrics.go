package store

import (
	"expvar"
	"fmt"
	"time"

	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/sys"
)

// Metrics holds the expvar variables of one store instance.
type Metrics struct {
	PublishedGlobally bool // Indicates if the metrics are published to the global expvar namespace.

	PutTotal         *expvar.Int
	GetTotal         *expvar.Int
	UpdateTotal      *expvar.Int
	DeleteTotal      *expvar.Int
	CommitTotal      *expvar.Int
	CommitErrors     *expvar.Int
	RollbackTotal    *expvar.Int
	CorruptionsTotal *expvar.Int

	BytesAllocatedTotal *expvar.Int
	BytesFreedTotal     *expvar.Int
	PagesAllocatedTotal *expvar.Int

	WALBytesWrittenTotal   *expvar.Int
	WALReplayTotal         *expvar.Int
	WALReplayedInstrsTotal *expvar.Int
	WALReplayDuration      *expvar.Float

	CompactionTotal       *expvar.Int
	CompactionErrorsTotal *expvar.Int
	CompactionBytesSaved  *expvar.Int

	SnapshotsOpen *expvar.Int

	CacheHits   *expvar.Int
	CacheMisses *expvar.Int

	CommitLatencyHist     *expvar.Map
	CompactionLatencyHist *expvar.Map

	// Process-wide: file preallocation outcomes and the shared buffer pool.
	Prealloc   expvar.Func
	BufferPool expvar.Func
}

// NewMetrics creates the metric set. With publishGlobally the variables are
// registered under prefix in the expvar namespace.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	var newIntFunc func(string) *expvar.Int
	var newFloatFunc func(string) *expvar.Float
	var newMapFunc func(string) *expvar.Map

	if publishGlobally {
		newIntFunc = publishExpvarInt
		newFloatFunc = publishExpvarFloat
		newMapFunc = publishExpvarMap
	} else {
		newIntFunc = func(_ string) *expvar.Int { return new(expvar.Int) }
		newFloatFunc = func(_ string) *expvar.Float { return new(expvar.Float) }
		newMapFunc = func(_ string) *expvar.Map {
			m := new(expvar.Map)
			m.Init()
			return m
		}
	}

	m := &Metrics{
		PublishedGlobally: publishGlobally,
		PutTotal:          newIntFunc(prefix + "put_total"),
		GetTotal:          newIntFunc(prefix + "get_total"),
		UpdateTotal:       newIntFunc(prefix + "update_total"),
		DeleteTotal:       newIntFunc(prefix + "delete_total"),
		CommitTotal:       newIntFunc(prefix + "commit_total"),
		CommitErrors:      newIntFunc(prefix + "commit_errors_total"),
		RollbackTotal:     newIntFunc(prefix + "rollback_total"),
		CorruptionsTotal:  newIntFunc(prefix + "corruptions_total"),

		BytesAllocatedTotal: newIntFunc(prefix + "bytes_allocated_total"),
		BytesFreedTotal:     newIntFunc(prefix + "bytes_freed_total"),
		PagesAllocatedTotal: newIntFunc(prefix + "pages_allocated_total"),

		WALBytesWrittenTotal:   newIntFunc(prefix + "wal_bytes_written_total"),
		WALReplayTotal:         newIntFunc(prefix + "wal_replay_total"),
		WALReplayedInstrsTotal: newIntFunc(prefix + "wal_replayed_instructions_total"),
		WALReplayDuration:      newFloatFunc(prefix + "wal_replay_duration_seconds"),

		CompactionTotal:       newIntFunc(prefix + "compaction_total"),
		CompactionErrorsTotal: newIntFunc(prefix + "compaction_errors_total"),
		CompactionBytesSaved:  newIntFunc(prefix + "compaction_bytes_saved_total"),

		SnapshotsOpen: newIntFunc(prefix + "snapshots_open"),

		CacheHits:   newIntFunc(prefix + "cache_hits"),
		CacheMisses: newIntFunc(prefix + "cache_misses"),

		CommitLatencyHist:     newMapFunc(prefix + "commit_latency_seconds"),
		CompactionLatencyHist: newMapFunc(prefix + "compaction_latency_seconds"),

		Prealloc:   expvar.Func(preallocStats),
		BufferPool: expvar.Func(bufferPoolStats),
	}
	if publishGlobally {
		publishExpvarFunc(prefix+"prealloc", m.Prealloc)
		publishExpvarFunc(prefix+"buffer_pool", m.BufferPool)
	}

	for _, h := range []*expvar.Map{m.CommitLatencyHist, m.CompactionLatencyHist} {
		h.Set("count", new(expvar.Int))
		h.Set("sum", new(expvar.Float))
		for _, b := range latencyBuckets {
			h.Set(fmt.Sprintf("le_%.3f", b), new(expvar.Int))
		}
		h.Set("le_inf", new(expvar.Int))
	}
	return m
}

func preallocStats() any {
	success, failure, unsupported := sys.PreallocCounts()
	hits, misses := sys.PreallocCacheStats()
	return map[string]uint64{
		"success":      success,
		"failure":      failure,
		"unsupported":  unsupported,
		"cache_hits":   hits,
		"cache_misses": misses,
	}
}

func bufferPoolStats() any {
	hits, misses, created, size := core.BufferPool.GetMetrics()
	return map[string]int64{
		"hits":    int64(hits),
		"misses":  int64(misses),
		"created": int64(created),
		"pooled":  size,
	}
}

// latencyBuckets defines the buckets for latency histograms (in seconds).
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// observeLatency records a duration in a cumulative histogram map.
func observeLatency(histMap *expvar.Map, d time.Duration) {
	if histMap == nil {
		return
	}
	seconds := d.Seconds()
	if v, ok := histMap.Get("count").(*expvar.Int); ok {
		v.Add(1)
	}
	if v, ok := histMap.Get("sum").(*expvar.Float); ok {
		v.Add(seconds)
	}
	for _, b := range latencyBuckets {
		if seconds <= b {
			if v, ok := histMap.Get(fmt.Sprintf("le_%.3f", b)).(*expvar.Int); ok {
				v.Add(1)
			}
		}
	}
	if v, ok := histMap.Get("le_inf").(*expvar.Int); ok {
		v.Add(1)
	}
}

// publishExpvarInt returns the published Int called name, resetting it when
// it already exists. A variable of another type under name panics.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0.0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap returns the published Map called name. NewMetrics resets
// its buckets.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}

// publishExpvarFunc publishes f unless name is taken. The functions read
// process-wide state, so an earlier store's variable reports the same values.
func publishExpvarFunc(name string, f expvar.Func) {
	if expvar.Get(name) == nil {
		expvar.Publish(name, f)
	}
}
