package codec

import (
	"errors"
	"io"
	"math/bits"
)

var errPackedOverflow = errors.New("packed long overflows 64 bits")

// MaxPackedLen is the longest encoding of a packed uint64.
const MaxPackedLen = 10

// PackedLen returns the number of bytes PutPackedLong writes for v.
func PackedLen(v uint64) int {
	if v == 0 {
		return 1
	}
	return (bits.Len64(v) + 6) / 7
}

// packShift returns the shift of the most significant 7-bit group.
func packShift(v uint64) int {
	shift := bits.Len64(v) - 1
	if shift < 0 {
		return 0
	}
	return shift - shift%7
}

// PutPackedLong writes v as big-end-first 7-bit groups. The last byte carries
// the 0x80 terminator flag. buf must have room for PackedLen(v) bytes.
func PutPackedLong(buf []byte, v uint64) int {
	n := 0
	for shift := packShift(v); shift != 0; shift -= 7 {
		buf[n] = byte((v >> shift) & 0x7F)
		n++
	}
	buf[n] = byte(v&0x7F) | 0x80
	return n + 1
}

// AppendPackedLong appends the packed form of v to dst.
func AppendPackedLong(dst []byte, v uint64) []byte {
	var tmp [MaxPackedLen]byte
	n := PutPackedLong(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// GetPackedLong decodes a packed long from the start of buf. It returns the
// value and the number of bytes consumed, or n == 0 if buf ends early.
func GetPackedLong(buf []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(buf) && i < MaxPackedLen; i++ {
		b := buf[i]
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 != 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

// WritePackedLong writes v to w.
func WritePackedLong(w io.ByteWriter, v uint64) error {
	for shift := packShift(v); shift != 0; shift -= 7 {
		if err := w.WriteByte(byte((v >> shift) & 0x7F)); err != nil {
			return err
		}
	}
	return w.WriteByte(byte(v&0x7F) | 0x80)
}

// ReadPackedLong reads a packed long from r.
func ReadPackedLong(r io.ByteReader) (uint64, error) {
	var v uint64
	for i := 0; i < MaxPackedLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 != 0 {
			return v, nil
		}
	}
	return 0, errPackedOverflow
}

// WritePackedSigned writes a zigzag-encoded signed value.
func WritePackedSigned(w io.ByteWriter, v int64) error {
	return WritePackedLong(w, uint64(v<<1)^uint64(v>>63))
}

// ReadPackedSigned reads a value written by WritePackedSigned.
func ReadPackedSigned(r io.ByteReader) (int64, error) {
	u, err := ReadPackedLong(r)
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// BidiLen returns the number of bytes PutPackedLongBidi writes for v.
func BidiLen(v uint64) int {
	n := 2
	v >>= 7
	for v&^0x7F != 0 {
		v >>= 7
		n++
	}
	return n
}

// PutPackedLongBidi writes v so it can be decoded both forward (from its first
// byte) and backward (from its last byte). First and last bytes carry the 0x80
// flag, so every value takes at least two bytes.
func PutPackedLongBidi(buf []byte, v uint64) int {
	buf[0] = byte(v&0x7F) | 0x80
	v >>= 7
	n := 1
	for v&^0x7F != 0 {
		buf[n] = byte(v & 0x7F)
		v >>= 7
		n++
	}
	buf[n] = byte(v) | 0x80
	return n + 1
}

// GetPackedLongBidi decodes forward from buf[0].
func GetPackedLongBidi(buf []byte) (uint64, int) {
	if len(buf) < 2 || buf[0]&0x80 == 0 {
		return 0, 0
	}
	v := uint64(buf[0] & 0x7F)
	shift := 7
	for i := 1; i < len(buf) && i <= MaxPackedLen; i++ {
		b := buf[i]
		v |= uint64(b&0x7F) << shift
		if b&0x80 != 0 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// GetPackedLongBidiReverse decodes the value whose last byte is buf[end-1].
func GetPackedLongBidiReverse(buf []byte, end int) (uint64, int) {
	if end < 2 || end > len(buf) || buf[end-1]&0x80 == 0 {
		return 0, 0
	}
	v := uint64(buf[end-1] & 0x7F)
	for i := end - 2; i >= 0 && end-i <= MaxPackedLen; i-- {
		b := buf[i]
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 != 0 {
			return v, end - i
		}
	}
	return 0, 0
}
