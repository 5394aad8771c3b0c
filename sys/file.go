package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// File opens platform files. Tests swap it with SetDefaultFile to inject faults.
type File interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Remove(name string) error
}

// FileHandle is the subset of *os.File used by volumes, WAL files and the
// compaction marker.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
	Fd() uintptr
}

// fileWrapper keeps the concrete type stored in defaultFile stable.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // fileWrapper
var debugMode atomic.Bool

func init() {
	defaultFile.Store(fileWrapper{f: NewFile()})
}

// SetDefaultFile replaces the platform File implementation.
func SetDefaultFile(file File) {
	defaultFile.Store(fileWrapper{f: file})
}

// SetDebugMode makes every handle opened afterwards log its open and close.
func SetDebugMode(mode bool) {
	debugMode.Store(mode)
}

func currentFile() (File, error) {
	fw, ok := defaultFile.Load().(fileWrapper)
	if !ok || fw.f == nil {
		return nil, os.ErrInvalid
	}
	return fw.f, nil
}

// Create opens name read-write, creating or truncating it.
func Create(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// Open opens name read-only.
func Open(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens name through the current File implementation.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	file, err := currentFile()
	if err != nil {
		return nil, err
	}
	if debugMode.Load() {
		return DOpenFile(file, name, flag, perm)
	}
	return ROpenFile(file, name, flag, perm)
}

// WriteFile writes data to name through the current File implementation.
func WriteFile(name string, data []byte, perm os.FileMode) error {
	file, err := currentFile()
	if err != nil {
		return err
	}
	return file.WriteFile(name, data, perm)
}

// Remove deletes name. A missing file is not an error.
func Remove(name string) error {
	file, err := currentFile()
	if err != nil {
		return err
	}
	if err := file.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
