package volume

// heapBackend keeps slices on the Go heap.
type heapBackend struct{}

func (heapBackend) grow(_ int, size int64) ([]byte, error) { return make([]byte, size), nil }
func (heapBackend) sync([][]byte) error                    { return nil }
func (heapBackend) shrink([][]byte, int64) error           { return nil }
func (heapBackend) close([][]byte) error                   { return nil }

// NewByteArray returns an in-memory volume. Its contents vanish on Close.
func NewByteArray(opts Options) Volume {
	opts = opts.withDefaults()
	opts.ReadOnly = false
	return newSlicedVolume("", opts, heapBackend{})
}
