package core

// Recid names one logical record slot. Zero is never a valid recid.
type Recid uint64

// CompressionType identifies the compression algorithm used for record payloads.
// It is stored in the feature bitmap so a store reopens with the same codec.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor defines the interface for record compression algorithms.
type Compressor interface {
	// Compress returns the compressed form of src. A nil result with a nil
	// error means the data is not compressible and must be stored raw.
	Compress(src []byte) ([]byte, error)
	// Decompress expands src into exactly size bytes.
	Decompress(src []byte, size int) ([]byte, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a configuration string to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return CompressionNone, WrongConfigf("unknown compression %q", s)
}

// Features is the feature bitmap persisted in the store header and copied
// into every WAL file.
type Features uint64

const (
	featureCompressionMask Features = 0x3
	// FeatureRecordChecksum appends a CRC32 to every stored record.
	FeatureRecordChecksum Features = 1 << 2

	featureKnownMask = featureCompressionMask | FeatureRecordChecksum
)

// NewFeatures builds a feature bitmap.
func NewFeatures(compression CompressionType, checksum bool) Features {
	f := Features(compression) & featureCompressionMask
	if checksum {
		f |= FeatureRecordChecksum
	}
	return f
}

// Compression returns the compression type encoded in the bitmap.
func (f Features) Compression() CompressionType {
	return CompressionType(f & featureCompressionMask)
}

// Checksum reports whether records carry a checksum.
func (f Features) Checksum() bool { return f&FeatureRecordChecksum != 0 }

// Unknown returns bits this build does not understand.
func (f Features) Unknown() Features { return f &^ featureKnownMask }

const (
	ChecksumSize = 4 // uint32 CRC32 record checksum
)
