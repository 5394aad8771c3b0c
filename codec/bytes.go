package codec

// PutUint48 writes the low 48 bits of v big-endian into b[0:6].
func PutUint48(b []byte, v uint64) {
	_ = b[5]
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

// GetUint48 reads a big-endian 48-bit value from b[0:6].
func GetUint48(b []byte) uint64 {
	_ = b[5]
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// PutUint24 writes the low 24 bits of v big-endian into b[0:3].
func PutUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// GetUint24 reads a big-endian 24-bit value from b[0:3].
func GetUint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// RoundUp16 rounds n up to the next multiple of 16.
func RoundUp16(n int64) int64 {
	return (n + 15) &^ 15
}
