// Package wal implements the write-ahead log of a record store: a series of
// log files, one per committed transaction, each holding a checksummed
// instruction stream and sealed only after it is durable.
package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/sys"
	"github.com/INLOpen/recstore/volume"
)

// SyncMode defines whether commits are synced to disk.
type SyncMode string

const (
	SyncAlways   SyncMode = "always"   // Sync before and after sealing (crash safe)
	SyncDisabled SyncMode = "disabled" // No sync (for testing/benchmarking, high risk of data loss)
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("wal is closed")

// Pointer locates bytes written by WriteBytes.
type Pointer struct {
	File   uint64
	Offset int64
}

// Options holds configuration for the WAL.
type Options struct {
	// Path is the store file; log files are named Path.NNNNNNNN.wal. Empty
	// means an in-memory log.
	Path          string
	Factory       volume.Factory
	VolumeOptions volume.Options
	// Features is copied into every log file and checked on replay.
	Features     core.Features
	SyncMode     SyncMode
	BytesWritten *expvar.Int
	Logger       *slog.Logger
	HookManager  hooks.HookManager
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Files        int
	Instructions int64
	Discarded    int
}

// WAL manages the log files of one store. Writes go to the current file;
// Commit seals it and the next write opens a new one.
type WAL struct {
	mu   sync.Mutex
	opts Options

	// sealed holds committed files still needed for Read and Replay.
	sealed    []*segment
	byIndex   map[uint64]*segment
	current   *segment
	pos       int64
	nextIndex uint64
	// pending lists files found on disk at open, not yet replayed.
	pending []uint64
	closed  bool

	logger *slog.Logger
	buf    [bytesInstrHead + longInstrSize]byte
}

// Open discovers log files left by a previous run. They are replayed by
// Replay; nothing is written until the first instruction.
func Open(opts Options) (*WAL, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Factory == nil {
		opts.Factory, _ = volume.NewFactory(volume.KindMemory)
	}
	if opts.SyncMode == "" {
		opts.SyncMode = SyncAlways
	}
	w := &WAL{
		opts:      opts,
		byIndex:   make(map[uint64]*segment),
		nextIndex: 1,
		logger:    opts.Logger.With("component", "WAL"),
	}
	pending, err := listSegments(opts.Path)
	if err != nil {
		return nil, err
	}
	w.pending = pending
	if len(pending) > 0 {
		w.nextIndex = pending[len(pending)-1] + 1
		w.logger.Info("Found WAL files from a previous run", "count", len(pending), "first", pending[0], "last", pending[len(pending)-1])
	}
	return w, nil
}

// FileCount returns the number of log files, sealed, pending or in progress.
func (w *WAL) FileCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.sealed) + len(w.pending)
	if w.current != nil {
		n++
	}
	return n
}

// HasPending reports whether log files from a previous run await replay.
func (w *WAL) HasPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) > 0
}

// ensureCurrent opens the current log file. Must be called with lock held.
func (w *WAL) ensureCurrent() error {
	if w.closed {
		return ErrClosed
	}
	if w.current != nil {
		return nil
	}
	seg, err := createSegment(w.opts.Factory, w.opts.VolumeOptions, w.opts.Path, w.nextIndex, w.opts.Features)
	if err != nil {
		return err
	}
	w.nextIndex++
	w.current = seg
	w.pos = InstructionsOffset
	w.logger.Debug("Opened WAL file", "index", seg.index, "path", seg.path)
	return nil
}

// reserve makes room for an n-byte instruction at w.pos, padding to the
// next slice when it would cross one. Must be called with lock held.
func (w *WAL) reserve(n int) error {
	if err := w.ensureCurrent(); err != nil {
		return err
	}
	vol := w.current.vol
	if vol.IsSliced() {
		ss := int64(vol.SliceSize())
		if rem := ss - w.pos%ss; rem < int64(n) {
			if err := w.skip(rem); err != nil {
				return err
			}
		}
	}
	// One spare byte keeps room for the EOF instruction.
	return vol.EnsureAvailable(w.pos + int64(n) + 1)
}

func (w *WAL) skip(n int64) error {
	vol := w.current.vol
	if err := vol.EnsureAvailable(w.pos + n); err != nil {
		return err
	}
	for n > 0 {
		if n < skipManyInstrHead {
			if err := vol.PutByte(w.pos, header(OpSkipOne, checksum4())); err != nil {
				return err
			}
			w.pos++
			n--
			continue
		}
		k := min(n-skipManyInstrHead, maxSkip)
		if err := vol.PutData(w.pos, encodeSkipMany(w.buf[:], int(k))); err != nil {
			return err
		}
		if err := vol.Clear(w.pos+skipManyInstrHead, w.pos+skipManyInstrHead+k); err != nil {
			return err
		}
		w.pos += skipManyInstrHead + k
		n -= skipManyInstrHead + k
	}
	return nil
}

func (w *WAL) written(n int) {
	w.pos += int64(n)
	if w.opts.BytesWritten != nil {
		w.opts.BytesWritten.Add(int64(n))
	}
}

// WriteLong logs an 8-byte write at offset.
func (w *WAL) WriteLong(offset int64, v uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.reserve(longInstrSize); err != nil {
		return err
	}
	if err := w.current.vol.PutData(w.pos, encodeLong(w.buf[:], offset, v)); err != nil {
		return err
	}
	w.written(longInstrSize)
	return nil
}

// WriteShort logs a 2-byte write at offset.
func (w *WAL) WriteShort(offset int64, v uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.reserve(shortInstrSize); err != nil {
		return err
	}
	if err := w.current.vol.PutData(w.pos, encodeShort(w.buf[:], offset, v)); err != nil {
		return err
	}
	w.written(shortInstrSize)
	return nil
}

// WriteClear logs a zero-fill of [offset, offset+size).
func (w *WAL) WriteClear(offset int64, size int) error {
	if size <= 0 || size > MaxBytesLen {
		return fmt.Errorf("wal clear instruction of %d bytes out of range", size)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.reserve(clearInstrSize); err != nil {
		return err
	}
	if err := w.current.vol.PutData(w.pos, encodeClear(w.buf[:], offset, uint16(size))); err != nil {
		return err
	}
	w.written(clearInstrSize)
	return nil
}

// WriteBytes logs a write of data at offset and returns where the data sits
// in the log, for Read.
func (w *WAL) WriteBytes(offset int64, data []byte) (Pointer, error) {
	if len(data) > MaxBytesLen {
		return Pointer{}, fmt.Errorf("wal bytes instruction of %d bytes exceeds %d", len(data), MaxBytesLen)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := bytesInstrHead + len(data)
	if err := w.reserve(n); err != nil {
		return Pointer{}, err
	}
	vol := w.current.vol
	if err := vol.PutData(w.pos, encodeBytesHead(w.buf[:], offset, data)); err != nil {
		return Pointer{}, err
	}
	ptr := Pointer{File: w.current.index, Offset: w.pos + bytesInstrHead}
	if err := vol.PutData(ptr.Offset, data); err != nil {
		return Pointer{}, err
	}
	w.written(n)
	return ptr, nil
}

// Read copies bytes logged by WriteBytes into dst.
func (w *WAL) Read(ptr Pointer, dst []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	seg := w.byIndex[ptr.File]
	if seg == nil && w.current != nil && w.current.index == ptr.File {
		seg = w.current
	}
	if seg == nil {
		return core.NewCorruptionError("wal read", ptr.Offset, "log file %d is not open", ptr.File)
	}
	return seg.vol.GetData(ptr.Offset, dst)
}

// Commit terminates the current file, makes it durable and seals it. The
// next write starts a new file.
func (w *WAL) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.reserve(1); err != nil {
		return err
	}
	seg := w.current
	if err := seg.vol.PutByte(w.pos, header(OpEOF, 0)); err != nil {
		return err
	}
	w.written(1)
	if w.opts.SyncMode == SyncAlways {
		if err := seg.vol.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL file %s: %w", seg.path, err)
		}
	}
	if err := seg.seal(); err != nil {
		return err
	}
	if w.opts.SyncMode == SyncAlways {
		if err := seg.vol.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL seal %s: %w", seg.path, err)
		}
	}
	w.sealed = append(w.sealed, seg)
	w.byIndex[seg.index] = seg
	w.current = nil
	w.logger.Debug("Sealed WAL file", "index", seg.index, "size", w.pos)

	if w.opts.HookManager != nil {
		payload := hooks.PostWALRotatePayload{
			SealedFile: seg.path,
			NewFile:    segmentPath(w.opts.Path, w.nextIndex),
			NewIndex:   w.nextIndex,
		}
		// Use background context as this is an internal, non-request-driven event.
		w.opts.HookManager.Trigger(context.Background(), hooks.NewPostWALRotateEvent(payload))
	}
	return nil
}

// Replay applies every sealed log, in file order, to target: first files
// found at open, then files sealed by this process. An unsealed file ends
// the replay and is discarded with a warning. A checksum mismatch aborts
// with ErrDataCorruption.
func (w *WAL) Replay(target volume.Volume) (ReplayStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var stats ReplayStats
	start := time.Now()

	for i, index := range w.pending {
		seg, err := openSegment(w.opts.Factory, w.opts.VolumeOptions, w.opts.Path, index)
		if err != nil {
			return stats, err
		}
		ok, err := seg.validate(w.opts.Features)
		if err != nil {
			seg.close()
			return stats, err
		}
		if !ok {
			seg.close()
			stats.Discarded = len(w.pending) - i
			w.logger.Warn("Discarding unsealed WAL file", "index", index, "path", seg.path, "discarded", stats.Discarded)
			break
		}
		n, err := replaySegment(seg, target)
		seg.close()
		stats.Instructions += n
		if err != nil {
			return stats, fmt.Errorf("replay of WAL file %s failed: %w", seg.path, err)
		}
		stats.Files++
	}
	for _, seg := range w.sealed {
		n, err := replaySegment(seg, target)
		stats.Instructions += n
		if err != nil {
			return stats, fmt.Errorf("replay of WAL file %s failed: %w", seg.path, err)
		}
		stats.Files++
	}
	if stats.Files > 0 {
		w.logger.Info("Replayed WAL", "files", stats.Files, "instructions", stats.Instructions, "duration", time.Since(start))
	}
	return stats, nil
}

// replaySegment applies one sealed file to target.
func replaySegment(seg *segment, target volume.Volume) (int64, error) {
	vol := seg.vol
	pos := int64(InstructionsOffset)
	var count int64
	var head [bytesInstrHead + longInstrSize]byte
	for {
		hb, err := vol.GetByte(pos)
		if err != nil {
			return count, core.NewCorruptionError("wal replay", pos, "log ends without EOF: %v", err)
		}
		op, sum := splitHeader(hb)
		switch op {
		case OpEOF:
			return count, nil
		case OpLong:
			b := head[:longInstrSize-1]
			if err := vol.GetData(pos+1, b); err != nil {
				return count, err
			}
			if err := verify(op, pos, sum, b); err != nil {
				return count, err
			}
			offset := int64(codec.GetUint48(b))
			if err := target.EnsureAvailable(offset + 8); err != nil {
				return count, err
			}
			if err := volume.PutDataOverlap(target, offset, b[6:14]); err != nil {
				return count, err
			}
			pos += longInstrSize
		case OpShort:
			b := head[:shortInstrSize-1]
			if err := vol.GetData(pos+1, b); err != nil {
				return count, err
			}
			if err := verify(op, pos, sum, b); err != nil {
				return count, err
			}
			offset := int64(codec.GetUint48(b))
			if err := target.EnsureAvailable(offset + 2); err != nil {
				return count, err
			}
			if err := volume.PutDataOverlap(target, offset, b[6:8]); err != nil {
				return count, err
			}
			pos += shortInstrSize
		case OpClear:
			b := head[:clearInstrSize-1]
			if err := vol.GetData(pos+1, b); err != nil {
				return count, err
			}
			if err := verify(op, pos, sum, b); err != nil {
				return count, err
			}
			offset := int64(codec.GetUint48(b))
			end := offset + int64(binary.BigEndian.Uint16(b[6:8]))
			if err := target.EnsureAvailable(end); err != nil {
				return count, err
			}
			if err := target.Clear(offset, end); err != nil {
				return count, err
			}
			pos += clearInstrSize
		case OpBytes:
			b := head[:bytesInstrHead-1]
			if err := vol.GetData(pos+1, b); err != nil {
				return count, err
			}
			size := int(b[0])<<8 | int(b[1])
			offset := int64(codec.GetUint48(b[2:]))
			data := make([]byte, size)
			if err := vol.GetData(pos+bytesInstrHead, data); err != nil {
				return count, err
			}
			if err := verify(op, pos, sum, b, data); err != nil {
				return count, err
			}
			if err := target.EnsureAvailable(offset + int64(size)); err != nil {
				return count, err
			}
			if err := volume.PutDataOverlap(target, offset, data); err != nil {
				return count, err
			}
			pos += int64(bytesInstrHead + size)
		case OpSkipMany:
			b := head[:skipManyInstrHead-1]
			if err := vol.GetData(pos+1, b); err != nil {
				return count, err
			}
			if err := verify(op, pos, sum, b); err != nil {
				return count, err
			}
			pos += skipManyInstrHead + int64(codec.GetUint24(b))
			continue
		case OpSkipOne:
			if err := verify(op, pos, sum); err != nil {
				return count, err
			}
			pos++
			continue
		default:
			return count, core.NewCorruptionError("wal replay", pos, "unknown opcode %d", op)
		}
		count++
	}
}

// Destroy closes and deletes every log file, including pending ones. It is
// called once their content has been replayed and synced.
func (w *WAL) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, index := range w.pending {
		errs = append(errs, sys.Remove(segmentPath(w.opts.Path, index)))
	}
	segs := w.sealed
	if w.current != nil {
		segs = append(segs, w.current)
	}
	for _, seg := range segs {
		errs = append(errs, seg.close())
		if seg.path != "" {
			errs = append(errs, sys.Remove(seg.path))
		}
	}
	w.pending = nil
	w.sealed = nil
	w.current = nil
	w.byIndex = make(map[uint64]*segment)
	w.nextIndex = 1
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to delete WAL files: %w", err)
	}
	return nil
}

// Close closes open log files without deleting them.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	for _, seg := range w.sealed {
		errs = append(errs, seg.close())
	}
	if w.current != nil {
		errs = append(errs, w.current.close())
		w.current = nil
	}
	closeErr := errors.Join(errs...)
	if closeErr != nil {
		w.logger.Error("Error during WAL close.", "error", closeErr)
	} else {
		w.logger.Debug("WAL closed.")
	}
	return closeErr
}
