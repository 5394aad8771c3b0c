package sys

import "errors"

// ErrPreallocNotSupported is returned when the file or filesystem cannot
// preallocate. Volumes treat it as informational and grow lazily.
var ErrPreallocNotSupported = errors.New("preallocation not supported")
