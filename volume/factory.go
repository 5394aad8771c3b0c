package volume

import (
	"strings"

	"github.com/INLOpen/recstore/core"
)

// Kind names a volume backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRaw    Kind = "raw"
	KindMMap   Kind = "mmap"
	KindFile   Kind = "file"
)

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindRaw, KindMMap, KindFile:
		return k, nil
	case "":
		return KindMemory, nil
	}
	return "", core.WrongConfigf("unknown volume kind %q", s)
}

// IsFile reports whether the kind persists to a path.
func (k Kind) IsFile() bool { return k == KindMMap || k == KindFile }

// Factory opens a volume for path. Memory kinds ignore path.
type Factory func(path string, opts Options) (Volume, error)

// NewFactory returns the Factory for kind.
func NewFactory(kind Kind) (Factory, error) {
	switch kind {
	case KindMemory:
		return func(_ string, opts Options) (Volume, error) { return NewByteArray(opts), nil }, nil
	case KindRaw:
		return func(_ string, opts Options) (Volume, error) { return NewRawMemory(opts), nil }, nil
	case KindMMap:
		return NewMappedFile, nil
	case KindFile:
		return func(path string, opts Options) (Volume, error) {
			v, err := NewFileChannel(path, opts)
			if err != nil {
				return nil, err
			}
			return v, nil
		}, nil
	}
	return nil, core.WrongConfigf("unknown volume kind %q", kind)
}
