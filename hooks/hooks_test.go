package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener appends its name to a shared log when called.
type recordingListener struct {
	name     string
	priority int
	async    bool
	err      error
	log      *callLog
	delay    time.Duration
}

type callLog struct {
	mu    sync.Mutex
	names []string
}

func (c *callLog) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *callLog) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func (l *recordingListener) OnEvent(_ context.Context, _ HookEvent) error {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.log != nil {
		l.log.add(l.name)
	}
	return l.err
}

func (l *recordingListener) Priority() int { return l.priority }

func (l *recordingListener) IsAsync() bool { return l.async }

func TestHookManager_PriorityOrder(t *testing.T) {
	m := NewHookManager(nil)
	log := &callLog{}
	m.Register(EventPreCommit, &recordingListener{name: "late", priority: 10, log: log})
	m.Register(EventPreCommit, &recordingListener{name: "early", priority: 1, log: log})
	m.Register(EventPreCommit, &recordingListener{name: "middle", priority: 5, log: log})
	m.Register(EventPreCommit, &recordingListener{name: "middle-2", priority: 5, log: log})

	require.NoError(t, m.Trigger(context.Background(), NewPreCommitEvent(PreCommitPayload{})))
	assert.Equal(t, []string{"early", "middle", "middle-2", "late"}, log.get())
}

func TestHookManager_PreHookVeto(t *testing.T) {
	m := NewHookManager(nil)
	log := &callLog{}
	veto := errors.New("not now")
	m.Register(EventPreCompaction, &recordingListener{name: "first", priority: 1, log: log})
	m.Register(EventPreCompaction, &recordingListener{name: "guard", priority: 2, log: log, err: veto})
	// Async is ignored for Pre events.
	m.Register(EventPreCompaction, &recordingListener{name: "skipped", priority: 3, log: log, async: true})

	err := m.Trigger(context.Background(), NewPreCompactionEvent(PreCompactionPayload{Path: "store.db"}))
	require.ErrorIs(t, err, veto)
	assert.Contains(t, err.Error(), "PreCompaction")
	assert.Equal(t, []string{"first", "guard"}, log.get())
}

func TestHookManager_PostHookErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	m := NewHookManager(slog.New(slog.NewJSONHandler(&buf, nil)))
	log := &callLog{}
	m.Register(EventPostCommit, &recordingListener{name: "failing", priority: 1, log: log, err: errors.New("disk full")})
	m.Register(EventPostCommit, &recordingListener{name: "after", priority: 2, log: log})

	require.NoError(t, m.Trigger(context.Background(), NewPostCommitEvent(PostCommitPayload{StoreSize: 1 << 20})))
	assert.Equal(t, []string{"failing", "after"}, log.get())
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), `"component":"HookManager"`)
}

func TestHookManager_AsyncPostHooks(t *testing.T) {
	m := NewHookManager(nil)
	log := &callLog{}
	for i := 0; i < 3; i++ {
		m.Register(EventPostReplay, &recordingListener{name: "async", async: true, log: log, delay: 10 * time.Millisecond})
	}
	m.Register(EventPostReplay, &recordingListener{name: "sync", priority: 50, log: log})

	require.NoError(t, m.Trigger(context.Background(), NewPostReplayEvent(PostReplayPayload{Files: 2})))
	assert.Contains(t, log.get(), "sync")
	m.Stop()
	assert.Len(t, log.get(), 4)
}

func TestHookManager_NoListeners(t *testing.T) {
	m := NewHookManager(nil)
	assert.NoError(t, m.Trigger(context.Background(), NewPostCloseEvent(PostClosePayload{Path: "store.db"})))
	m.Stop()
}

func TestEvents_CarryPayloads(t *testing.T) {
	ev := NewPostWALRotateEvent(PostWALRotatePayload{SealedFile: "store.db.00000001.wal", NewIndex: 2})
	assert.Equal(t, EventPostWALRotate, ev.Type())
	p, ok := ev.Payload().(PostWALRotatePayload)
	require.True(t, ok)
	assert.Equal(t, uint64(2), p.NewIndex)

	snap := NewPostCreateSnapshotEvent(PostCreateSnapshotPayload{OpenSnapshots: 3})
	assert.Equal(t, EventPostCreateSnapshot, snap.Type())
	assert.Equal(t, 3, snap.Payload().(PostCreateSnapshotPayload).OpenSnapshots)
}

func BenchmarkTrigger_PreCommit(b *testing.B) {
	m := NewHookManager(nil)
	for i := 0; i < 10; i++ {
		m.Register(EventPreCommit, &recordingListener{priority: i})
	}
	ev := NewPreCommitEvent(PreCommitPayload{DirtyIndexEntries: 10, DirtyBytes: 4096})
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Trigger(ctx, ev)
	}
}
