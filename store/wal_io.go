package store

import (
	"bytes"
	"sync"

	"github.com/INLOpen/recstore/volume"
	"github.com/INLOpen/recstore/wal"
)

// walIO buffers a transaction in memory. Reads look at the current
// transaction, then at data committed to the log but not yet replayed, then
// at the main volume. Commit logs the buffers and turns them into log
// pointers; replay folds the log into the main volume.
type walIO struct {
	main volume.Volume // read-only view
	log  *wal.WAL

	// head holds [0, HeadEnd) of the store; headBackup is its state at the
	// last commit.
	head       volume.Volume
	headBackup []byte

	// Per segment, guarded by the segment lock.
	currIndex []map[int64]uint64
	prevIndex []map[int64]uint64

	dataMu   sync.Mutex
	currData map[int64][]byte
	prevData map[int64]wal.Pointer

	// Guarded by the structural lock. currFree lists ranges released in
	// the current transaction; they are cleared before anything else of the
	// transaction is replayed.
	currPages map[int64][]byte
	prevPages map[int64]wal.Pointer
	currFree  []span
}

var _ storeIO = (*walIO)(nil)

func newWALIO(main volume.Volume, log *wal.WAL, segments int) (*walIO, error) {
	w := &walIO{
		main:      main,
		log:       log,
		head:      volume.NewByteArray(volume.Options{SliceShift: 16}),
		currIndex: make([]map[int64]uint64, segments),
		prevIndex: make([]map[int64]uint64, segments),
		currData:  make(map[int64][]byte),
		prevData:  make(map[int64]wal.Pointer),
		currPages: make(map[int64][]byte),
		prevPages: make(map[int64]wal.Pointer),
	}
	for i := range w.currIndex {
		w.currIndex[i] = make(map[int64]uint64)
		w.prevIndex[i] = make(map[int64]uint64)
	}
	if err := w.reloadHead(); err != nil {
		return nil, err
	}
	return w, nil
}

// reloadHead copies the header from the main volume.
func (w *walIO) reloadHead() error {
	if err := w.head.EnsureAvailable(HeadEnd); err != nil {
		return err
	}
	buf := make([]byte, HeadEnd)
	if err := w.mainData(0, buf); err != nil {
		return err
	}
	if err := w.head.PutData(0, buf); err != nil {
		return err
	}
	w.headBackup = buf
	return nil
}

func (w *walIO) mainLong(off int64) (uint64, error) {
	if off+8 > w.main.Length() {
		return 0, nil
	}
	return w.main.GetLong(off)
}

// mainData reads from the main volume; bytes past its end read as zero.
func (w *walIO) mainData(off int64, dst []byte) error {
	n := min(int64(len(dst)), max(w.main.Length()-off, 0))
	clear(dst[n:])
	if n == 0 {
		return nil
	}
	return volume.GetDataOverlap(w.main, off, dst[:n])
}

func (w *walIO) headGet(off int64) (uint64, error) { return w.head.GetLong(off) }

func (w *walIO) headPut(off int64, v uint64) error { return w.head.PutLong(off, v) }

func (w *walIO) indexGet(seg int, off int64) (uint64, error) {
	if v, ok := w.currIndex[seg][off]; ok {
		return v, nil
	}
	if v, ok := w.prevIndex[seg][off]; ok {
		return v, nil
	}
	return w.mainLong(off)
}

func (w *walIO) indexPut(seg int, off int64, v uint64) error {
	w.currIndex[seg][off] = v
	return nil
}

func (w *walIO) pageGet(off int64, dst []byte) error {
	if b, ok := w.currPages[off]; ok {
		copy(dst, b)
		return nil
	}
	if ptr, ok := w.prevPages[off]; ok {
		return w.log.Read(ptr, dst)
	}
	return w.mainData(off, dst)
}

func (w *walIO) pagePut(off int64, src []byte) error {
	w.currPages[off] = bytes.Clone(src)
	return nil
}

func (w *walIO) dataGet(off int64, dst []byte) error {
	w.dataMu.Lock()
	b, inCurr := w.currData[off]
	ptr, inPrev := w.prevData[off]
	w.dataMu.Unlock()
	switch {
	case inCurr:
		copy(dst, b)
		return nil
	case inPrev:
		return w.log.Read(ptr, dst)
	}
	return w.mainData(off, dst)
}

func (w *walIO) dataPut(off int64, src []byte) error {
	w.dataMu.Lock()
	w.currData[off] = bytes.Clone(src)
	w.dataMu.Unlock()
	return nil
}

// released drops buffered bytes of a freed range and schedules the range
// to be zero-filled on replay.
func (w *walIO) released(off, size int64) error {
	w.dataMu.Lock()
	delete(w.currData, off)
	w.dataMu.Unlock()
	delete(w.currPages, off)
	w.currFree = append(w.currFree, span{off: off, size: size})
	return nil
}

// grow is a no-op: replay extends the main volume.
func (w *walIO) grow(int64) error { return nil }

// newIndexPage is a no-op: space past the end of the main volume reads as
// zero.
func (w *walIO) newIndexPage(int64) error { return nil }

// dirtyStats counts buffered changes. Callers hold every lock.
func (w *walIO) dirtyStats() (entries int, size int64) {
	for _, m := range w.currIndex {
		entries += len(m)
	}
	size = int64(entries) * 8
	w.dataMu.Lock()
	for _, b := range w.currData {
		size += int64(len(b))
	}
	w.dataMu.Unlock()
	for _, b := range w.currPages {
		size += int64(len(b))
	}
	return entries, size
}

// dirty reports whether anything changed since the last commit.
func (w *walIO) dirty() (bool, error) {
	if entries, size := w.dirtyStats(); entries > 0 || size > 0 {
		return true, nil
	}
	buf := make([]byte, HeadEnd)
	if err := w.head.GetData(0, buf); err != nil {
		return false, err
	}
	return !bytes.Equal(buf, w.headBackup), nil
}

// logTransaction writes the buffered transaction to the log: clears of
// freed ranges, index values, record data, bookkeeping pages, then the whole
// header. Freed ranges may be reused within the transaction, so their
// clears go first. The returned pointers become visible through promote
// once the log is sealed.
func (w *walIO) logTransaction() (data, pages map[int64]wal.Pointer, err error) {
	for _, sp := range w.currFree {
		if err := w.log.WriteClear(sp.off, int(sp.size)); err != nil {
			return nil, nil, err
		}
	}
	for _, m := range w.currIndex {
		for off, v := range m {
			if err := w.log.WriteLong(off, v); err != nil {
				return nil, nil, err
			}
		}
	}
	data = make(map[int64]wal.Pointer, len(w.currData))
	for off, b := range w.currData {
		if data[off], err = w.log.WriteBytes(off, b); err != nil {
			return nil, nil, err
		}
	}
	pages = make(map[int64]wal.Pointer, len(w.currPages))
	for off, b := range w.currPages {
		if pages[off], err = w.log.WriteBytes(off, b); err != nil {
			return nil, nil, err
		}
	}
	head := make([]byte, HeadEnd)
	if err := w.head.GetData(0, head); err != nil {
		return nil, nil, err
	}
	if _, err := w.log.WriteBytes(0, head); err != nil {
		return nil, nil, err
	}
	return data, pages, nil
}

// promote moves a committed transaction from the buffers to the log
// pointers and takes a new header backup.
func (w *walIO) promote(data, pages map[int64]wal.Pointer) error {
	for seg, m := range w.currIndex {
		for off, v := range m {
			w.prevIndex[seg][off] = v
		}
		w.currIndex[seg] = make(map[int64]uint64)
	}
	w.dataMu.Lock()
	for off, ptr := range data {
		w.prevData[off] = ptr
	}
	w.currData = make(map[int64][]byte)
	w.dataMu.Unlock()
	for off, ptr := range pages {
		w.prevPages[off] = ptr
	}
	w.currPages = make(map[int64][]byte)
	w.currFree = nil
	buf := make([]byte, HeadEnd)
	if err := w.head.GetData(0, buf); err != nil {
		return err
	}
	w.headBackup = buf
	return nil
}

// discard drops the current transaction and restores the header backup.
func (w *walIO) discard() error {
	for seg := range w.currIndex {
		w.currIndex[seg] = make(map[int64]uint64)
	}
	w.dataMu.Lock()
	w.currData = make(map[int64][]byte)
	w.dataMu.Unlock()
	w.currPages = make(map[int64][]byte)
	w.currFree = nil
	return w.head.PutData(0, w.headBackup)
}

// replayed forgets log pointers once the log is folded into the main volume.
func (w *walIO) replayed() {
	for seg := range w.prevIndex {
		w.prevIndex[seg] = make(map[int64]uint64)
	}
	w.dataMu.Lock()
	w.prevData = make(map[int64]wal.Pointer)
	w.dataMu.Unlock()
	w.prevPages = make(map[int64]wal.Pointer)
}

func (w *walIO) close() error {
	return w.head.Close()
}
