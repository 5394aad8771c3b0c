package sys

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
)

var _ FileHandle = (*DebugFile)(nil)

var nextID atomic.Uint64

// openFiles tracks handles opened in debug mode, keyed by handle id.
var openFiles sync.Map

// DebugFile logs open and close of a handle and tracks it until closed. Tests
// use OpenFileNames to assert that a store released every file.
type DebugFile struct {
	RealFile
	id     uint64
	logger *slog.Logger
}

func DOpenFile(sysFile File, name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := sysFile.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	id := nextID.Add(1)
	logger := slog.Default().With("component", "DebugFile", "id", id, "file_name", name)
	logger.Debug("Opening file")
	openFiles.Store(id, f.Name())
	return &DebugFile{RealFile: RealFile{f: f}, id: id, logger: logger}, nil
}

func (df *DebugFile) Close() error {
	df.logger.Debug("Closing file")
	openFiles.Delete(df.id)
	return df.f.Close()
}

// OpenFileNames lists the files currently open through debug handles.
func OpenFileNames() []string {
	var names []string
	openFiles.Range(func(_, value any) bool {
		names = append(names, value.(string))
		return true
	})
	sort.Strings(names)
	return names
}
