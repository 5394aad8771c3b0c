package codec

import (
	"math/bits"

	"github.com/INLOpen/recstore/core"
)

// Parity1Set stores a single parity bit in bit 0 so that the word always has
// an odd bit count. Bit 0 of v must be zero.
func Parity1Set(v uint64) uint64 {
	return v | uint64((bits.OnesCount64(v)+1)&1)
}

// Parity1Get validates and strips the parity bit.
func Parity1Get(v uint64) (uint64, error) {
	if bits.OnesCount64(v)&1 != 1 {
		return 0, core.NewCorruptionError("parity1", -1, "parity bit mismatch in %#016x", v)
	}
	return v &^ 1, nil
}

// Parity3Set stores a 3-bit bit-count checksum in the low bits. v&7 must be zero.
func Parity3Set(v uint64) uint64 {
	return v | uint64((bits.OnesCount64(v)+1)&7)
}

// Parity3Get validates and strips the 3-bit checksum.
func Parity3Get(v uint64) (uint64, error) {
	val := v &^ 7
	if uint64((bits.OnesCount64(val)+1)&7) != v&7 {
		return 0, core.NewCorruptionError("parity3", -1, "checksum mismatch in %#016x", v)
	}
	return val, nil
}

// Parity4Set stores a 4-bit bit-count checksum in the low bits. v&15 must be zero.
func Parity4Set(v uint64) uint64 {
	return v | uint64((bits.OnesCount64(v)+1)&15)
}

// Parity4Get validates and strips the 4-bit checksum.
func Parity4Get(v uint64) (uint64, error) {
	val := v &^ 15
	if uint64((bits.OnesCount64(val)+1)&15) != v&15 {
		return 0, core.NewCorruptionError("parity4", -1, "checksum mismatch in %#016x", v)
	}
	return val, nil
}

func fold16(v uint64) uint64 {
	x := v >> 16
	return (x ^ x>>16 ^ x>>32 + 1) & 0xFFFF
}

// Parity16Set stores a 16-bit fold of the upper 48 bits in the low 16 bits.
// v&0xFFFF must be zero; any single flipped bit is detected.
func Parity16Set(v uint64) uint64 {
	return v | fold16(v)
}

// Parity16Get validates and strips the 16-bit checksum.
func Parity16Get(v uint64) (uint64, error) {
	if fold16(v) != v&0xFFFF {
		return 0, core.NewCorruptionError("parity16", -1, "checksum mismatch in %#016x", v)
	}
	return v &^ 0xFFFF, nil
}
