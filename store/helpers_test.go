package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/internal/testutil"
	"github.com/INLOpen/recstore/wal"
	"github.com/stretchr/testify/require"
)

// testOptions returns options for a store at path; an empty path gives a
// memory store.
func testOptions(path string) Options {
	return Options{
		Path:     path,
		SyncMode: wal.SyncDisabled,
		Logger:   testutil.DiscardLogger(),
	}
}

func openDirect(t *testing.T, opts Options) *StoreDirect {
	t.Helper()
	s, err := OpenDirect(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openWAL(t *testing.T, opts Options) *StoreWAL {
	t.Helper()
	w, err := OpenWAL(opts)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// crash abandons the store the way a killed process would: log files stay
// on disk, nothing is replayed and the open transaction is lost.
func (w *StoreWAL) crash() error {
	s := w.s
	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	s.closed.Store(true)
	return errors.Join(w.log.Close(), w.io.close(), s.closeFiles())
}

// engineKinds runs fn against a direct and a transactional store, each in
// memory and backed by a file.
func engineKinds(t *testing.T, fn func(t *testing.T, e Engine)) {
	for _, tc := range []struct {
		name string
		file bool
		tx   bool
	}{
		{"direct/memory", false, false},
		{"direct/file", true, false},
		{"wal/memory", false, true},
		{"wal/file", true, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := ""
			if tc.file {
				path = testutil.TempStorePath(t)
			}
			if tc.tx {
				fn(t, openWAL(t, testOptions(path)))
			} else {
				fn(t, openDirect(t, testOptions(path)))
			}
		})
	}
}

// eventRecorder collects events of the types it is registered for.
type eventRecorder struct {
	mu     sync.Mutex
	events []hooks.HookEvent
	veto   error
}

func (r *eventRecorder) OnEvent(_ context.Context, ev hooks.HookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.veto
}

func (r *eventRecorder) Priority() int { return 0 }

func (r *eventRecorder) IsAsync() bool { return false }

func (r *eventRecorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Payload()
	}
	return out
}

func (r *eventRecorder) setVeto(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.veto = err
}
