package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/volume"
)

// Log file layout: [0,4) magic+version, [4,12) feature bitmap, [12,20) seal,
// instructions from 20.
const (
	featuresOffset = core.FileHeaderSize
	sealOffset     = featuresOffset + 8
	// InstructionsOffset is where the instruction stream starts.
	InstructionsOffset = sealOffset + 8

	// logSliceShift keeps the largest bytes instruction inside one slice.
	logSliceShift = 20
)

// segment is one log file, backed by a Volume.
type segment struct {
	vol   volume.Volume
	path  string
	index uint64
}

func sealValue(index uint64) uint64 { return codec.HashLong(index) | 1 }

// segmentPath returns the file name of log index for the store at base.
// Memory logs get an empty path.
func segmentPath(base string, index uint64) string {
	if base == "" {
		return ""
	}
	return core.FormatSegmentFileName(base, index)
}

// listSegments returns the indexes of log files that belong to base, in order.
func listSegments(base string) ([]uint64, error) {
	if base == "" {
		return nil, nil
	}
	dir, name := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read WAL directory %s: %w", dir, err)
	}
	var indexes []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, err := core.ParseSegmentFileName(name, e.Name()); err == nil {
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes, nil
}

// createSegment opens a fresh log file and writes its header.
func createSegment(factory volume.Factory, opts volume.Options, base string, index uint64, features core.Features) (*segment, error) {
	path := segmentPath(base, index)
	opts.SliceShift = logSliceShift
	vol, err := factory(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL file %s: %w", path, err)
	}
	seg := &segment{vol: vol, path: path, index: index}
	if err := seg.writeHeader(features); err != nil {
		vol.Close()
		return nil, err
	}
	return seg, nil
}

func (s *segment) writeHeader(features core.Features) error {
	if err := s.vol.EnsureAvailable(InstructionsOffset + 1); err != nil {
		return err
	}
	if err := s.vol.PutInt(0, core.NewFileHeader(core.WALMagic).Encode()); err != nil {
		return err
	}
	if err := s.vol.PutLong(featuresOffset, uint64(features)); err != nil {
		return err
	}
	// A reused file must not look sealed.
	return s.vol.PutLong(sealOffset, 0)
}

// openSegment opens an existing log file read-only.
func openSegment(factory volume.Factory, opts volume.Options, base string, index uint64) (*segment, error) {
	path := segmentPath(base, index)
	opts.SliceShift = logSliceShift
	opts.ReadOnly = true
	vol, err := factory(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file %s: %w", path, err)
	}
	return &segment{vol: vol, path: path, index: index}, nil
}

// validate checks header, features and seal. A false result with a nil error
// means the file was never sealed and must be discarded.
func (s *segment) validate(features core.Features) (bool, error) {
	if s.vol.Length() < InstructionsOffset {
		return false, nil
	}
	h, err := s.vol.GetInt(0)
	if err != nil {
		return false, err
	}
	if core.DecodeFileHeader(h).Validate(core.WALMagic) != nil {
		return false, nil
	}
	seal, err := s.vol.GetLong(sealOffset)
	if err != nil {
		return false, err
	}
	if seal != sealValue(s.index) {
		return false, nil
	}
	f, err := s.vol.GetLong(featuresOffset)
	if err != nil {
		return false, err
	}
	if core.Features(f) != features {
		return false, core.WrongConfigf("WAL file %s has features %#x, store has %#x", s.path, f, uint64(features))
	}
	return true, nil
}

func (s *segment) seal() error {
	return s.vol.PutLong(sealOffset, sealValue(s.index))
}

func (s *segment) close() error {
	if s.vol == nil {
		return nil
	}
	err := s.vol.Close()
	s.vol = nil
	return err
}
