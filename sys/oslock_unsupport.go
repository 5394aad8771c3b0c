//go:build !unix

package sys

import (
	"errors"
	"time"
)

// ErrOSFileLockNotSupported is returned where no advisory lock exists.
var ErrOSFileLockNotSupported = errors.New("OS file locking not supported on this platform")

func AcquireOSFileLock(lockPath string, timeout time.Duration) (func() error, error) {
	return nil, ErrOSFileLockNotSupported
}
