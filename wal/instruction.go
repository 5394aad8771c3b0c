package wal

import (
	"encoding/binary"
	"math/bits"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

// Opcode is the high nibble of an instruction header byte.
type Opcode byte

const (
	OpEOF      Opcode = 0
	OpLong     Opcode = 1 // offset48, value64
	OpBytes    Opcode = 2 // size16, offset48, data
	OpShort    Opcode = 3 // offset48, value16
	OpSkipMany Opcode = 4 // n24, then n padding bytes
	OpSkipOne  Opcode = 5
	OpClear    Opcode = 6 // offset48, size16
)

func (o Opcode) String() string {
	switch o {
	case OpEOF:
		return "eof"
	case OpLong:
		return "long"
	case OpBytes:
		return "bytes"
	case OpShort:
		return "short"
	case OpSkipMany:
		return "skipMany"
	case OpSkipOne:
		return "skipOne"
	case OpClear:
		return "clear"
	default:
		return "unknown"
	}
}

const (
	longInstrSize     = 1 + 6 + 8
	shortInstrSize    = 1 + 6 + 2
	bytesInstrHead    = 1 + 2 + 6
	skipManyInstrHead = 1 + 3
	clearInstrSize    = 1 + 6 + 2

	// MaxBytesLen is the largest payload of one bytes instruction.
	MaxBytesLen = 1<<16 - 1
	maxSkip     = 1<<24 - 1
)

// checksum4 is a bit-count checksum: every single flipped payload bit
// changes it.
func checksum4(parts ...[]byte) byte {
	n := 1
	for _, p := range parts {
		for len(p) >= 8 {
			n += bits.OnesCount64(binary.BigEndian.Uint64(p))
			p = p[8:]
		}
		for _, b := range p {
			n += bits.OnesCount8(b)
		}
	}
	return byte(n & 0xF)
}

func header(op Opcode, sum byte) byte { return byte(op)<<4 | sum&0xF }

func splitHeader(b byte) (Opcode, byte) { return Opcode(b >> 4), b & 0xF }

func encodeLong(buf []byte, offset int64, v uint64) []byte {
	buf = buf[:longInstrSize]
	codec.PutUint48(buf[1:], uint64(offset))
	binary.BigEndian.PutUint64(buf[7:], v)
	buf[0] = header(OpLong, checksum4(buf[1:]))
	return buf
}

func encodeShort(buf []byte, offset int64, v uint16) []byte {
	buf = buf[:shortInstrSize]
	codec.PutUint48(buf[1:], uint64(offset))
	binary.BigEndian.PutUint16(buf[7:], v)
	buf[0] = header(OpShort, checksum4(buf[1:]))
	return buf
}

// encodeBytesHead fills the fixed part of a bytes instruction; the checksum
// covers the data too.
func encodeBytesHead(buf []byte, offset int64, data []byte) []byte {
	buf = buf[:bytesInstrHead]
	binary.BigEndian.PutUint16(buf[1:], uint16(len(data)))
	codec.PutUint48(buf[3:], uint64(offset))
	buf[0] = header(OpBytes, checksum4(buf[1:], data))
	return buf
}

func encodeClear(buf []byte, offset int64, size uint16) []byte {
	buf = buf[:clearInstrSize]
	codec.PutUint48(buf[1:], uint64(offset))
	binary.BigEndian.PutUint16(buf[7:], size)
	buf[0] = header(OpClear, checksum4(buf[1:]))
	return buf
}

func encodeSkipMany(buf []byte, n int) []byte {
	buf = buf[:skipManyInstrHead]
	codec.PutUint24(buf[1:], uint32(n))
	buf[0] = header(OpSkipMany, checksum4(buf[1:]))
	return buf
}

func verify(op Opcode, pos int64, want byte, parts ...[]byte) error {
	if got := checksum4(parts...); got != want {
		return core.NewCorruptionError("wal "+op.String(), pos, "instruction checksum mismatch: got %x, want %x", got, want)
	}
	return nil
}
