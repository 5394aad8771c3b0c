package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/recstore/hooks"
)

// GrowthAlerterListener logs a warning after a commit when the store file
// outgrows a threshold or when too much of it is free space, so operators
// know a compaction would pay off.
type GrowthAlerterListener struct {
	logger       *slog.Logger
	maxSize      int64
	maxFreeRatio float64
}

// NewGrowthAlerterListener alerts above maxSize bytes (0 disables) or above
// maxFreeRatio of free bytes (0 disables).
func NewGrowthAlerterListener(logger *slog.Logger, maxSize int64, maxFreeRatio float64) *GrowthAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GrowthAlerterListener{
		logger:       logger.With("component", "GrowthAlerterListener"),
		maxSize:      maxSize,
		maxFreeRatio: maxFreeRatio,
	}
}

func (l *GrowthAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostCommit {
		return nil
	}
	payload, ok := event.Payload().(hooks.PostCommitPayload)
	if !ok {
		l.logger.Error("Received PostCommit event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	if l.maxSize > 0 && payload.StoreSize > l.maxSize {
		l.logger.Warn("Store grew past threshold", "store_size", payload.StoreSize, "threshold", l.maxSize)
	}
	if l.maxFreeRatio > 0 && payload.StoreSize > 0 {
		ratio := float64(payload.FreeBytes) / float64(payload.StoreSize)
		if ratio > l.maxFreeRatio {
			l.logger.Warn("Free space ratio high, consider compaction", "free_bytes", payload.FreeBytes, "store_size", payload.StoreSize, "ratio", ratio)
		}
	}
	return nil
}

func (l *GrowthAlerterListener) Priority() int { return 100 }

func (l *GrowthAlerterListener) IsAsync() bool { return true }
