//go:build !unix

package sys

import "os"

type portableFile struct{}

// NewFile returns the platform File implementation.
func NewFile() File {
	return portableFile{}
}

func (portableFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (portableFile) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (portableFile) Remove(name string) error {
	return os.Remove(name)
}
