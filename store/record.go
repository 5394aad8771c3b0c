package store

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

const (
	markerRaw        byte = 0
	markerCompressed byte = 1

	// maxLinkedFragments bounds a fragment walk so a corrupted cycle ends.
	maxLinkedFragments = 1 << 16
)

// encode applies the store features to a record payload. Null and empty
// payloads are stored without any framing.
func (s *StoreDirect) encode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	out := data
	if s.features.Compression() != core.CompressionNone {
		compressed, err := s.comp.Compress(data)
		if err != nil {
			return nil, err
		}
		if compressed != nil {
			out = make([]byte, 0, 1+codec.MaxPackedLen+len(compressed)+core.ChecksumSize)
			out = append(out, markerCompressed)
			out = codec.AppendPackedLong(out, uint64(len(data)))
			out = append(out, compressed...)
		} else {
			out = make([]byte, 0, 1+len(data)+core.ChecksumSize)
			out = append(out, markerRaw)
			out = append(out, data...)
		}
	}
	if s.features.Checksum() {
		if s.features.Compression() == core.CompressionNone {
			// Never append into the caller's buffer.
			out = append(make([]byte, 0, len(data)+core.ChecksumSize), data...)
		}
		out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
	}
	return out, nil
}

// decode reverses encode.
func (s *StoreDirect) decode(stored []byte, at int64) ([]byte, error) {
	if len(stored) == 0 {
		return stored, nil
	}
	body := stored
	if s.features.Checksum() {
		if len(body) <= core.ChecksumSize {
			return nil, core.NewCorruptionError("record", at, "record of %d bytes is too short for its checksum", len(body))
		}
		n := len(body) - core.ChecksumSize
		if got, want := crc32.ChecksumIEEE(body[:n]), binary.BigEndian.Uint32(body[n:]); got != want {
			return nil, core.NewCorruptionError("record", at, "checksum mismatch: got %08x, want %08x", got, want)
		}
		body = body[:n]
	}
	if s.features.Compression() == core.CompressionNone {
		return body, nil
	}
	switch body[0] {
	case markerRaw:
		return body[1:], nil
	case markerCompressed:
		size, n := codec.GetPackedLong(body[1:])
		if n == 0 {
			return nil, core.NewCorruptionError("record", at, "truncated uncompressed length")
		}
		return s.comp.Decompress(body[1+n:], int(size))
	}
	return nil, core.NewCorruptionError("record", at, "unknown compression marker %d", body[0])
}

// checkFragment validates a fragment location before it is read.
func (s *StoreDirect) checkFragment(e indexEntry, at int64) error {
	if e.size > MaxRecSize || (e.linked() && e.size <= linkSize) {
		return core.NewCorruptionError("fragment", at, "invalid fragment size %d", e.size)
	}
	if e.offset < PageSize || e.offset+int64(e.size) > s.storeSize.Load() {
		return core.NewCorruptionError("fragment", at, "fragment [%d,+%d) outside the data region", e.offset, e.size)
	}
	if s.opts.Debug && e.offset/PageSize != (e.offset+int64(e.size)-1)/PageSize {
		return core.NewCorruptionError("fragment", at, "fragment [%d,+%d) crosses a page", e.offset, e.size)
	}
	return nil
}

// readStored returns the stored bytes of a non-empty record, following the
// fragment chain.
func (s *StoreDirect) readStored(e indexEntry, at int64) ([]byte, error) {
	var out []byte
	for i := 0; i < maxLinkedFragments; i++ {
		if err := s.checkFragment(e, at); err != nil {
			return nil, err
		}
		buf := make([]byte, e.size)
		if err := s.io.dataGet(e.offset, buf); err != nil {
			return nil, err
		}
		if !e.linked() {
			if out == nil {
				return buf, nil
			}
			return append(out, buf...), nil
		}
		link := binary.BigEndian.Uint64(buf)
		if link == 0 {
			return nil, core.NewCorruptionError("fragment link", e.offset, "zero link word")
		}
		next, err := decodeIndex(link, e.offset)
		if err != nil {
			return nil, err
		}
		if next.size == 0 || next.unused() {
			return nil, core.NewCorruptionError("fragment link", e.offset, "link points to an empty fragment")
		}
		out = append(out, buf[linkSize:]...)
		at = e.offset
		e = next
	}
	return nil, core.NewCorruptionError("fragment link", at, "chain longer than %d fragments", maxLinkedFragments)
}

// fragments lists the spans of a stored record without reading payloads.
func (s *StoreDirect) fragments(e indexEntry, at int64) ([]span, error) {
	var spans []span
	var link [linkSize]byte
	for i := 0; i < maxLinkedFragments; i++ {
		if err := s.checkFragment(e, at); err != nil {
			return nil, err
		}
		spans = append(spans, span{off: e.offset, size: codec.RoundUp16(int64(e.size))})
		if !e.linked() {
			return spans, nil
		}
		if err := s.io.dataGet(e.offset, link[:]); err != nil {
			return nil, err
		}
		next, err := decodeIndex(binary.BigEndian.Uint64(link[:]), e.offset)
		if err != nil {
			return nil, err
		}
		if next.size == 0 || next.unused() {
			return nil, core.NewCorruptionError("fragment link", e.offset, "link points to an empty fragment")
		}
		at = e.offset
		e = next
	}
	return nil, core.NewCorruptionError("fragment link", at, "chain longer than %d fragments", maxLinkedFragments)
}

// writeStored allocates space for stored bytes, writes them and returns the
// index value. stored nil is a null record.
func (s *StoreDirect) writeStored(stored []byte) (uint64, error) {
	if stored == nil {
		return nullValue, nil
	}
	if len(stored) == 0 {
		return indexEntry{flags: flagArchive}.encode(), nil
	}
	if len(stored) <= MaxRecSize {
		off, err := s.allocate(codec.RoundUp16(int64(len(stored))))
		if err != nil {
			return 0, err
		}
		if err := s.io.dataPut(off, stored); err != nil {
			return 0, err
		}
		return indexEntry{size: len(stored), offset: off, flags: flagArchive}.encode(), nil
	}

	// Every fragment but the last carries a link word and a full payload.
	const payload = MaxRecSize - linkSize
	var sizes []int
	rest := len(stored)
	for rest > MaxRecSize {
		sizes = append(sizes, MaxRecSize)
		rest -= payload
	}
	sizes = append(sizes, rest)

	offsets := make([]int64, len(sizes))
	for i, size := range sizes {
		off, err := s.allocate(codec.RoundUp16(int64(size)))
		if err != nil {
			s.freeSpans(spansOf(offsets[:i], sizes))
			return 0, err
		}
		offsets[i] = off
	}

	last := len(sizes) - 1
	if err := s.io.dataPut(offsets[last], stored[last*payload:]); err != nil {
		return 0, err
	}
	next := indexEntry{size: sizes[last], offset: offsets[last]}
	buf := make([]byte, MaxRecSize)
	for i := last - 1; i >= 0; i-- {
		binary.BigEndian.PutUint64(buf, next.encode())
		copy(buf[linkSize:], stored[i*payload:(i+1)*payload])
		if err := s.io.dataPut(offsets[i], buf); err != nil {
			return 0, err
		}
		next = indexEntry{size: MaxRecSize, offset: offsets[i], flags: flagLinked}
	}
	next.flags |= flagArchive
	return next.encode(), nil
}

func spansOf(offsets []int64, sizes []int) []span {
	spans := make([]span, len(offsets))
	for i, off := range offsets {
		spans[i] = span{off: off, size: codec.RoundUp16(int64(sizes[i]))}
	}
	return spans
}
