//go:build !unix

package volume

// RawMemoryAvailable reports whether anonymous mappings work on this host.
func RawMemoryAvailable() bool { return false }

// NewRawMemory returns a heap volume; raw memory is not supported here.
func NewRawMemory(opts Options) Volume {
	opts = opts.withDefaults()
	opts.Logger.Info("Raw memory unavailable, using heap volume", "component", "Volume")
	return NewByteArray(opts)
}
