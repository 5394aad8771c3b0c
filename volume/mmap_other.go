//go:build !unix

package volume

// NewMappedFile falls back to a file-channel volume where mmap is unavailable.
func NewMappedFile(path string, opts Options) (Volume, error) {
	v, err := NewFileChannel(path, opts)
	if err != nil {
		return nil, err
	}
	return v, nil
}
