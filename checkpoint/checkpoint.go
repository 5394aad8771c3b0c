// Package checkpoint persists the compaction marker: a small file next to a
// store recording that a compaction is in flight and how far it got.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/sys"
)

// Phase is the compaction step recorded in the marker.
type Phase uint8

const (
	// PhaseBuilding: the target file is being filled; the old store is authoritative.
	PhaseBuilding Phase = 1
	// PhaseSwapping: the target is complete and durable; it replaces the old store.
	PhaseSwapping Phase = 2
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseSwapping:
		return "swapping"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Marker is the marker content.
type Marker struct {
	Phase Phase
	// MaxRecid of the store when compaction started.
	MaxRecid uint64
}

// Path returns the marker location for a store file.
func Path(storePath string) string {
	return core.FormatTempFilename(storePath, core.CheckpointFileName)
}

func tempPath(storePath string) string {
	return core.FormatTempFilename(Path(storePath), "tmp")
}

// Write atomically replaces the marker of storePath: write a temp file, sync,
// close, then rename over the final name.
func Write(storePath string, m Marker) error {
	tmp := tempPath(storePath)
	file, err := sys.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp compaction marker: %w", err)
	}
	buf := make([]byte, 13)
	binary.LittleEndian.PutUint32(buf[0:4], core.CheckpointMagicNumber)
	buf[4] = byte(m.Phase)
	binary.LittleEndian.PutUint64(buf[5:13], m.MaxRecid)
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write compaction marker: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp compaction marker: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp compaction marker before rename: %w", err)
	}
	if err := sys.Rename(tmp, Path(storePath)); err != nil {
		return fmt.Errorf("failed to rename temp compaction marker: %w", err)
	}
	return nil
}

// Read returns the marker of storePath and whether it exists. A marker that
// exists but cannot be parsed is reported as ErrDataCorruption.
func Read(storePath string) (Marker, bool, error) {
	b, err := os.ReadFile(Path(storePath))
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, false, nil
		}
		return Marker{}, false, fmt.Errorf("failed to read compaction marker: %w", err)
	}
	if len(b) < 13 {
		return Marker{}, true, core.NewCorruptionError("compaction marker", -1, "truncated to %d bytes", len(b))
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != core.CheckpointMagicNumber {
		return Marker{}, true, core.NewCorruptionError("compaction marker", 0, "invalid magic number: got %x, want %x", magic, core.CheckpointMagicNumber)
	}
	m := Marker{Phase: Phase(b[4]), MaxRecid: binary.LittleEndian.Uint64(b[5:13])}
	if m.Phase != PhaseBuilding && m.Phase != PhaseSwapping {
		return Marker{}, true, core.NewCorruptionError("compaction marker", 4, "unknown %s", m.Phase)
	}
	return m, true, nil
}

// Remove deletes the marker and any temp file left by an interrupted Write.
func Remove(storePath string) error {
	if err := sys.Remove(tempPath(storePath)); err != nil {
		return err
	}
	if err := sys.Remove(Path(storePath)); err != nil {
		return err
	}
	return nil
}

// Exists reports whether a marker or its temp file is present.
func Exists(storePath string) bool {
	for _, p := range []string{Path(storePath), tempPath(storePath)} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
