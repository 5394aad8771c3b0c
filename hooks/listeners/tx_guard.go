package listeners

import (
	"context"
	"errors"
	"fmt"

	"github.com/INLOpen/recstore/hooks"
)

// ErrTransactionTooLarge is returned by TxSizeGuardListener to veto a commit.
var ErrTransactionTooLarge = errors.New("transaction too large")

// TxSizeGuardListener vetoes commits whose buffered bytes exceed a limit.
// The vetoed transaction stays buffered; the caller can roll it back.
type TxSizeGuardListener struct {
	maxBytes int64
}

func NewTxSizeGuardListener(maxBytes int64) *TxSizeGuardListener {
	return &TxSizeGuardListener{maxBytes: maxBytes}
}

func (l *TxSizeGuardListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PreCommitPayload)
	if !ok || event.Type() != hooks.EventPreCommit {
		return nil
	}
	if payload.DirtyBytes > l.maxBytes {
		return fmt.Errorf("%w: %d buffered bytes, limit %d", ErrTransactionTooLarge, payload.DirtyBytes, l.maxBytes)
	}
	return nil
}

func (l *TxSizeGuardListener) Priority() int { return 0 }

func (l *TxSizeGuardListener) IsAsync() bool { return false }
