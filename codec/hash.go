package codec

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the 64-bit content hash of b.
func Hash(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashLong hashes the big-endian form of v.
func HashLong(v uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return xxhash.Sum64(b[:])
}
