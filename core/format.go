package core

import (
	"fmt"
	"strconv"
	"strings"
)

// This file centralizes constants related to file formats, magic numbers,
// and other protocol-level identifiers used across the store.

// --- Magic Numbers ---
const (
	// StoreMagic identifies a main store file (upper half of the first int).
	StoreMagic uint16 = 0x5253 // "RS"
	// WALMagic identifies a write-ahead log file.
	WALMagic uint16 = 0x5257 // "RW"
	// CheckpointMagicNumber identifies the compaction marker file.
	CheckpointMagicNumber uint32 = 0x54504B43
)

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the current version for all persistent file formats.
	FormatVersion uint16 = 1
)

// --- File Names & Suffixes ---
const (
	// WALFileSuffix is the suffix for WAL log files.
	WALFileSuffix = ".wal"
	// CompactFileSuffix is appended to the store path for the compaction target.
	CompactFileSuffix = ".compact"
	// CheckpointFileName is the name of the compaction marker next to the store.
	CheckpointFileName = "COMPACTING"
)

// FormatTempFilename joins prefix and postfix with a dot.
func FormatTempFilename(prefix, postfix string) string {
	return fmt.Sprintf("%s.%s", prefix, postfix)
}

// FormatSegmentFileName creates a WAL file name for a store file base name.
func FormatSegmentFileName(base string, index uint64) string {
	return fmt.Sprintf("%s.%08d%s", base, index, WALFileSuffix)
}

// ParseSegmentFileName extracts the index from a WAL file name belonging to base.
func ParseSegmentFileName(base, name string) (uint64, error) {
	if !strings.HasSuffix(name, WALFileSuffix) || !strings.HasPrefix(name, base+".") {
		return 0, fmt.Errorf("file %s is not a WAL file of %s", name, base)
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, base+"."), WALFileSuffix)
	if len(name) != 8 {
		return 0, fmt.Errorf("file %s has a malformed WAL index", name)
	}
	return strconv.ParseUint(name, 10, 64)
}
