// Package codec holds the stateless binary helpers shared by the volume,
// store and wal packages: packed variable-length integers, parity-protected
// words, the 64-bit content hash and fixed-width big-endian helpers.
package codec
