package sys

import (
	"sync"
	"sync/atomic"
)

// preallocCache remembers per device id whether preallocation works there,
// so growing many slices of one store file probes the filesystem once.
var preallocCache sync.Map // uint64 -> bool

var (
	preallocCacheHits   atomic.Uint64
	preallocCacheMisses atomic.Uint64
	preallocSuccesses   atomic.Uint64
	preallocFailures    atomic.Uint64
	preallocUnsupported atomic.Uint64
)

func preallocCacheLoad(dev uint64) (allowed bool, found bool) {
	if v, ok := preallocCache.Load(dev); ok {
		if b, ok2 := v.(bool); ok2 {
			return b, true
		}
	}
	return false, false
}

func preallocCacheStore(dev uint64, allowed bool) {
	preallocCache.Store(dev, allowed)
}

func preallocCacheHit()       { preallocCacheHits.Add(1) }
func preallocCacheMiss()      { preallocCacheMisses.Add(1) }
func preallocSuccessInc()     { preallocSuccesses.Add(1) }
func preallocFailureInc()     { preallocFailures.Add(1) }
func preallocUnsupportedInc() { preallocUnsupported.Add(1) }

// PreallocCacheStats returns the device cache hit and miss counters.
func PreallocCacheStats() (hits uint64, misses uint64) {
	return preallocCacheHits.Load(), preallocCacheMisses.Load()
}

// PreallocCounts returns successful, failed and unsupported attempt counts.
func PreallocCounts() (success, failure, unsupported uint64) {
	return preallocSuccesses.Load(), preallocFailures.Load(), preallocUnsupported.Load()
}
