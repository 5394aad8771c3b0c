//go:build unix

package sys

import (
	"os"
)

type unixFile struct{}

// NewFile returns the platform File implementation.
func NewFile() File {
	return &unixFile{}
}

func (unixFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (unixFile) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (unixFile) Remove(name string) error {
	return os.Remove(name)
}
