package store

import (
	"context"

	"github.com/INLOpen/recstore/core"
)

// Engine is the record store API shared by StoreDirect, StoreWAL, Cached
// and Snapshot.
type Engine interface {
	Put(data []byte) (core.Recid, error)
	Get(recid core.Recid) ([]byte, error)
	Update(recid core.Recid, data []byte) error
	Delete(recid core.Recid) error
	Preallocate() (core.Recid, error)
	Commit() error
	Rollback() error
	Compact(ctx context.Context) error
	Snapshot() (*Snapshot, error)
	MaxRecid() core.Recid
	Close() error
}

// Open opens the store described by opts: transactional when
// opts.Transactions is set, behind an LRU cache when opts.CacheCapacity is
// positive.
func Open(opts Options) (Engine, error) {
	var e Engine
	var err error
	if opts.Transactions {
		e, err = OpenWAL(opts)
	} else {
		e, err = OpenDirect(opts)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheCapacity > 0 {
		return NewCached(e, opts.CacheCapacity), nil
	}
	return e, nil
}
