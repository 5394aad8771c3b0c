package store

import (
	"encoding/binary"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

// A long stack is a LIFO of packed values kept in a chain of small pages
// inside the data region. The master word in the header holds the tail
// position and the offset of the newest page; each page starts with a word
// holding its size and the offset of the previous page. Values are packed
// bidirectionally so pop can read them backwards from the tail.
//
// All functions here run under the structural lock.

func encodeMaster(tail int, page int64) uint64 {
	return codec.Parity4Set(uint64(tail)<<48 | uint64(page))
}

func decodeMaster(m uint64, at int64) (int, int64, error) {
	raw, err := codec.Parity4Get(m)
	if err != nil {
		return 0, 0, core.NewCorruptionError("long stack master", at, "checksum mismatch in %#016x", m)
	}
	tail := int(raw >> 48)
	page := int64(raw & offsetMask)
	if tail <= longStackHeader || tail > longStackPageSize || page < PageSize {
		return 0, 0, core.NewCorruptionError("long stack master", at, "tail %d page %d out of range", tail, page)
	}
	return tail, page, nil
}

func decodePageHeader(page []byte, at int64) (int64, error) {
	raw, err := codec.Parity4Get(binary.BigEndian.Uint64(page))
	if err != nil {
		return 0, core.NewCorruptionError("long stack page", at, "header checksum mismatch")
	}
	if int(raw>>48) != longStackPageSize {
		return 0, core.NewCorruptionError("long stack page", at, "page size %d, want %d", raw>>48, longStackPageSize)
	}
	return int64(raw & offsetMask), nil
}

// lastEntryEnd finds the tail of a full page. Every packed entry ends with
// a byte that has its high bit set, and unused space is zero.
func lastEntryEnd(page []byte) int {
	for i := len(page) - 1; i >= longStackHeader; i-- {
		if page[i] != 0 {
			return i + 1
		}
	}
	return longStackHeader
}

func (s *StoreDirect) longStackPush(master int64, value uint64) error {
	n := codec.BidiLen(value)
	m, err := s.io.headGet(master)
	if err != nil {
		return err
	}
	var page [longStackPageSize]byte
	var prev int64
	if m != 0 {
		tail, pageOff, err := decodeMaster(m, master)
		if err != nil {
			return err
		}
		if tail+n <= longStackPageSize {
			if err := s.io.pageGet(pageOff, page[:]); err != nil {
				return err
			}
			codec.PutPackedLongBidi(page[tail:], value)
			if err := s.io.pagePut(pageOff, page[:]); err != nil {
				return err
			}
			return s.io.headPut(master, encodeMaster(tail+n, pageOff))
		}
		prev = pageOff
	}

	// Pages come from the cursor only, never from a free stack.
	pageOff, err := s.allocFromCursor(longStackPageSize)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(page[:], codec.Parity4Set(uint64(longStackPageSize)<<48|uint64(prev)))
	codec.PutPackedLongBidi(page[longStackHeader:], value)
	if err := s.io.pagePut(pageOff, page[:]); err != nil {
		return err
	}
	return s.io.headPut(master, encodeMaster(longStackHeader+n, pageOff))
}

// longStackPop removes the newest value. An emptied page is handed to the
// pending list and the master moves to the previous page.
func (s *StoreDirect) longStackPop(master int64) (uint64, bool, error) {
	m, err := s.io.headGet(master)
	if err != nil || m == 0 {
		return 0, false, err
	}
	tail, pageOff, err := decodeMaster(m, master)
	if err != nil {
		return 0, false, err
	}
	var page [longStackPageSize]byte
	if err := s.io.pageGet(pageOff, page[:]); err != nil {
		return 0, false, err
	}
	v, n := codec.GetPackedLongBidiReverse(page[:], tail)
	if n == 0 || tail-n < longStackHeader {
		return 0, false, core.NewCorruptionError("long stack page", pageOff, "unreadable entry before %d", tail)
	}
	tail -= n
	if tail > longStackHeader {
		clear(page[tail : tail+n])
		if err := s.io.pagePut(pageOff, page[:]); err != nil {
			return 0, false, err
		}
		return v, true, s.io.headPut(master, encodeMaster(tail, pageOff))
	}

	prev, err := decodePageHeader(page[:], pageOff)
	if err != nil {
		return 0, false, err
	}
	if prev == 0 {
		err = s.io.headPut(master, 0)
	} else {
		var prevPage [longStackPageSize]byte
		if err := s.io.pageGet(prev, prevPage[:]); err != nil {
			return 0, false, err
		}
		prevTail := lastEntryEnd(prevPage[:])
		if prevTail == longStackHeader {
			return 0, false, core.NewCorruptionError("long stack page", prev, "previous page is empty")
		}
		err = s.io.headPut(master, encodeMaster(prevTail, prev))
	}
	if err != nil {
		return 0, false, err
	}
	s.pending = append(s.pending, span{off: pageOff, size: longStackPageSize})
	return v, true, nil
}

// longStackWalk visits every page and value of a stack, newest first.
// Either callback may be nil.
func (s *StoreDirect) longStackWalk(master int64, onPage func(int64) error, onValue func(uint64) error) error {
	m, err := s.io.headGet(master)
	if err != nil || m == 0 {
		return err
	}
	tail, pageOff, err := decodeMaster(m, master)
	if err != nil {
		return err
	}
	maxPages := s.storeSize.Load() / longStackPageSize
	var page [longStackPageSize]byte
	for visited := int64(0); pageOff != 0; visited++ {
		if visited > maxPages || pageOff < PageSize || pageOff+longStackPageSize > s.storeSize.Load() {
			return core.NewCorruptionError("long stack page", pageOff, "page chain leaves the store")
		}
		if err := s.io.pageGet(pageOff, page[:]); err != nil {
			return err
		}
		if visited > 0 {
			tail = lastEntryEnd(page[:])
		}
		if onPage != nil {
			if err := onPage(pageOff); err != nil {
				return err
			}
		}
		for pos := tail; pos > longStackHeader; {
			v, n := codec.GetPackedLongBidiReverse(page[:], pos)
			if n == 0 || pos-n < longStackHeader {
				return core.NewCorruptionError("long stack page", pageOff, "unreadable entry before %d", pos)
			}
			if onValue != nil {
				if err := onValue(v); err != nil {
					return err
				}
			}
			pos -= n
		}
		if pageOff, err = decodePageHeader(page[:], pageOff); err != nil {
			return err
		}
	}
	return nil
}
