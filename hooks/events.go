package hooks

import "time"

// EventType names a hook event. Types starting with "Pre" can veto.
type EventType string

const (
	EventPreCommit          EventType = "PreCommit"
	EventPostCommit         EventType = "PostCommit"
	EventPostRollback       EventType = "PostRollback"
	EventPostReplay         EventType = "PostReplay"
	EventPreCompaction      EventType = "PreCompaction"
	EventPostCompaction     EventType = "PostCompaction"
	EventPostWALRotate      EventType = "PostWALRotate"
	EventPostCreateSnapshot EventType = "PostCreateSnapshot"
	EventPostClose          EventType = "PostClose"
)

// HookEvent is implemented by every event.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent is the HookEvent used by all constructors below.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreCommitPayload describes the transaction about to be committed.
type PreCommitPayload struct {
	// DirtyIndexEntries counts buffered index writes.
	DirtyIndexEntries int
	// DirtyBytes counts buffered record and page bytes.
	DirtyBytes int64
}

func NewPreCommitEvent(payload PreCommitPayload) HookEvent {
	return &BaseEvent{eventType: EventPreCommit, payload: payload}
}

// PostCommitPayload describes the store after a commit.
type PostCommitPayload struct {
	StoreSize int64
	FreeBytes int64
	MaxRecid  uint64
	// Replayed is set when the commit also folded the log into the store.
	Replayed bool
	Duration time.Duration
}

func NewPostCommitEvent(payload PostCommitPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCommit, payload: payload}
}

// PostRollbackPayload reports what a rollback discarded.
type PostRollbackPayload struct {
	DiscardedIndexEntries int
}

func NewPostRollbackEvent(payload PostRollbackPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRollback, payload: payload}
}

// PostReplayPayload reports a WAL replay into the main store.
type PostReplayPayload struct {
	Files        int
	Instructions int64
	// Recovery is set for replays run at open time.
	Recovery bool
	Duration time.Duration
}

func NewPostReplayEvent(payload PostReplayPayload) HookEvent {
	return &BaseEvent{eventType: EventPostReplay, payload: payload}
}

// PreCompactionPayload describes a compaction about to start.
type PreCompactionPayload struct {
	Path      string
	MaxRecid  uint64
	StoreSize int64
}

func NewPreCompactionEvent(payload PreCompactionPayload) HookEvent {
	return &BaseEvent{eventType: EventPreCompaction, payload: payload}
}

// PostCompactionPayload reports a finished (or failed) compaction.
type PostCompactionPayload struct {
	Path        string
	LiveRecords int64
	SizeBefore  int64
	SizeAfter   int64
	Duration    time.Duration
	Error       error
}

func NewPostCompactionEvent(payload PostCompactionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCompaction, payload: payload}
}

// PostWALRotatePayload names the sealed log and its successor.
type PostWALRotatePayload struct {
	SealedFile string
	NewFile    string
	NewIndex   uint64
}

func NewPostWALRotateEvent(payload PostWALRotatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALRotate, payload: payload}
}

// PostCreateSnapshotPayload reports the number of open snapshots.
type PostCreateSnapshotPayload struct {
	OpenSnapshots int
}

func NewPostCreateSnapshotEvent(payload PostCreateSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCreateSnapshot, payload: payload}
}

// PostClosePayload names the closed store.
type PostClosePayload struct {
	Path string
}

func NewPostCloseEvent(payload PostClosePayload) HookEvent {
	return &BaseEvent{eventType: EventPostClose, payload: payload}
}
