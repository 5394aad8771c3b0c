package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
	"github.com/RoaringBitmap/roaring/roaring64"
	"go.opentelemetry.io/otel/attribute"
)

// backupEnd terminates a backup stream.
const backupEnd = -1

// maxBackupRecord bounds the record length accepted by Restore.
const maxBackupRecord = int64(maxLinkedFragments) * (MaxRecSize - linkSize)

// Backup writes every live record to w, highest recid first, as
// (zigzag recid, length+1 or 0 for null, bytes) tuples ended by -1. Records
// written are marked clean: the archive flag is cleared once the stream is
// flushed, unless the store is read-only. In a transactional store the
// cleared flags are part of the current transaction.
func (s *StoreDirect) Backup(ctx context.Context, w io.Writer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "StoreDirect.Backup")
	defer span.End()

	s.lockAll()
	defer s.unlockAll()

	bw := bufio.NewWriter(w)
	type flagged struct {
		seg int
		off int64
		e   indexEntry
	}
	var dirty []flagged
	var records int64
	for recid := core.Recid(s.maxRecid.Load()); recid > 0; recid-- {
		if recid%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("backup cancelled: %w", errors.Join(core.ErrInterrupted, err))
			}
		}
		seg, off, err := s.locate(recid)
		if err != nil {
			return err
		}
		v, err := s.io.indexGet(seg, off)
		if err != nil {
			return err
		}
		if v == 0 {
			continue
		}
		e, err := decodeIndex(v, off)
		if err != nil {
			return s.note(err)
		}
		if e.unused() {
			continue
		}
		data, err := s.readValue(recid, v, off)
		if err != nil {
			return s.note(err)
		}
		if err := writeBackupRecord(bw, recid, data); err != nil {
			return err
		}
		records++
		if e.archive() && !s.opts.ReadOnly {
			dirty = append(dirty, flagged{seg, off, e})
		}
	}
	if err := codec.WritePackedSigned(bw, backupEnd); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush backup: %w", err)
	}

	for _, d := range dirty {
		d.e.flags &^= flagArchive
		if err := s.setIndex(d.seg, d.off, d.e.encode()); err != nil {
			return err
		}
	}
	span.SetAttributes(attribute.Int64("backup.records", records))
	s.logger.Info("Backup written", "records", records, "dirty", len(dirty))
	return nil
}

func writeBackupRecord(w *bufio.Writer, recid core.Recid, data []byte) error {
	if err := codec.WritePackedSigned(w, int64(recid)); err != nil {
		return err
	}
	if data == nil {
		return codec.WritePackedLong(w, 0)
	}
	if err := codec.WritePackedLong(w, uint64(len(data))+1); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Restore loads a stream written by Backup into an empty store. Recids are
// preserved; recids missing from the stream become free. On error the store
// holds a partial restore and should be discarded or rolled back.
func (s *StoreDirect) Restore(ctx context.Context, r io.Reader) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "StoreDirect.Restore")
	defer span.End()

	s.commitLock.Lock()
	defer s.commitLock.Unlock()
	s.lockAll()
	defer s.unlockAll()

	if err := s.checkEmpty(); err != nil {
		return err
	}
	br := bufio.NewReader(r)
	seen := roaring64.New()
	var maxRecid core.Recid
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore cancelled: %w", errors.Join(core.ErrInterrupted, err))
		}
		recid, data, err := readBackupRecord(br)
		if err != nil {
			return s.note(err)
		}
		if recid == 0 {
			break
		}
		if maxRecid == 0 {
			maxRecid = recid
			if err := s.reserveRecids(maxRecid); err != nil {
				return err
			}
		} else if !seen.IsEmpty() && uint64(recid) >= seen.Minimum() {
			return core.NewCorruptionError("restore", int64(recid), "recids out of order")
		}
		seen.Add(uint64(recid))
		if err := s.restoreRecord(recid, data); err != nil {
			return s.note(err)
		}
	}

	// Gaps become free recids, pushed highest first so the lowest is reused
	// first.
	for recid := maxRecid; recid > RecidLastReserved; recid-- {
		if seen.Contains(uint64(recid)) {
			continue
		}
		seg, off, err := s.locate(recid)
		if err != nil {
			return err
		}
		if err := s.setIndex(seg, off, tombstone); err != nil {
			return err
		}
		if err := s.freeRecid(recid); err != nil {
			return err
		}
	}
	span.SetAttributes(attribute.Int64("restore.records", int64(seen.GetCardinality())))
	s.logger.Info("Backup restored", "records", seen.GetCardinality(), "max_recid", maxRecid)
	return nil
}

// checkEmpty accepts a store holding nothing but the reserved null records.
func (s *StoreDirect) checkEmpty() error {
	if core.Recid(s.maxRecid.Load()) != RecidLastReserved {
		return core.WrongConfigf("restore needs an empty store, max recid is %d", s.maxRecid.Load())
	}
	for recid := core.Recid(1); recid <= RecidLastReserved; recid++ {
		seg, off, err := s.locate(recid)
		if err != nil {
			return err
		}
		v, err := s.io.indexGet(seg, off)
		if err != nil {
			return err
		}
		if v != nullValue {
			return core.WrongConfigf("restore needs an empty store, recid %d is in use", recid)
		}
	}
	return nil
}

func (s *StoreDirect) restoreRecord(recid core.Recid, data []byte) error {
	seg, off, err := s.locate(recid)
	if err != nil {
		return err
	}
	stored, err := s.encode(data)
	if err != nil {
		return err
	}
	old, err := s.io.indexGet(seg, off)
	if err != nil {
		return err
	}
	var spans []span
	if old != 0 {
		if e, err := decodeIndex(old, off); err == nil && !e.unused() && e.size > 0 {
			if spans, err = s.fragments(e, off); err != nil {
				return err
			}
		}
	}
	v, err := s.writeStored(stored)
	if err != nil {
		return err
	}
	// Restored records match the backup, so they start clean.
	e, _ := decodeIndex(v, off)
	e.flags &^= flagArchive
	if err := s.setIndex(seg, off, e.encode()); err != nil {
		return err
	}
	return s.freeSpans(spans)
}

// readBackupRecord returns recid 0 at the end of the stream.
func readBackupRecord(r *bufio.Reader) (core.Recid, []byte, error) {
	recid, err := codec.ReadPackedSigned(r)
	if err != nil {
		return 0, nil, backupTruncated(err)
	}
	if recid == backupEnd {
		return 0, nil, nil
	}
	if recid <= 0 {
		return 0, nil, core.NewCorruptionError("restore", -1, "invalid recid %d", recid)
	}
	n, err := codec.ReadPackedLong(r)
	if err != nil {
		return 0, nil, backupTruncated(err)
	}
	if n == 0 {
		return core.Recid(recid), nil, nil
	}
	if n-1 > uint64(maxBackupRecord) {
		return 0, nil, core.NewCorruptionError("restore", recid, "record of %d bytes is too large", n-1)
	}
	data := make([]byte, n-1)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, backupTruncated(err)
	}
	return core.Recid(recid), data, nil
}

func backupTruncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return core.NewCorruptionError("restore", -1, "backup stream ends without terminator")
	}
	return err
}

// Backup exports committed and uncommitted records alike.
func (w *StoreWAL) Backup(ctx context.Context, out io.Writer) error { return w.s.Backup(ctx, out) }

// Restore loads a backup into the current transaction.
func (w *StoreWAL) Restore(ctx context.Context, r io.Reader) error { return w.s.Restore(ctx, r) }
