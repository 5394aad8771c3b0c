package sys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/INLOpen/recstore/core"
)

// LockSuffix is appended to a store path to name its lock file.
const LockSuffix = ".lock"

// DefaultLockStaleTTL is the age after which an exclusive-create lock file
// left by a dead process is broken. It is only used where OS locks are missing.
var DefaultLockStaleTTL = 30 * time.Second

// LockOptions tunes AcquireFileLock.
type LockOptions struct {
	Retries       int
	RetryInterval time.Duration
	StaleTTL      time.Duration
}

// lockRecord is the 12-byte lock file body: pid followed by unix nanos.
func lockRecord() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(os.Getpid()))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(time.Now().UTC().UnixNano()))
	return buf
}

// AcquireFileLock takes exclusive ownership of path by locking path+".lock".
// It prefers an OS advisory lock, which the kernel drops when the owner dies;
// on platforms without one it falls back to an exclusive create with stale
// lock breaking. Failure after all retries wraps core.ErrFileLocked.
func AcquireFileLock(path string, opts LockOptions) (func() error, error) {
	lockPath := path + LockSuffix
	var lastErr error
	for i := 0; i <= opts.Retries; i++ {
		if i > 0 {
			time.Sleep(opts.RetryInterval)
		}
		release, err := AcquireOSFileLock(lockPath, 0)
		if err == nil {
			_ = WriteFile(lockPath, lockRecord(), 0o644)
			return release, nil
		}
		if !errors.Is(err, ErrOSFileLockNotSupported) {
			lastErr = err
			continue
		}
		release, err = acquireExclusiveCreate(lockPath, opts.StaleTTL)
		if err == nil {
			return release, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", core.ErrFileLocked, path, lastErr)
}

func acquireExclusiveCreate(lockPath string, staleTTL time.Duration) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) && staleTTL > 0 && lockAge(lockPath) > staleTTL {
			_ = os.Remove(lockPath)
		}
		return nil, err
	}
	record := lockRecord()
	_, werr := f.Write(record)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(lockPath)
		return nil, werr
	}
	return func() error {
		b, err := os.ReadFile(lockPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		// Someone broke our lock as stale and took it over.
		if string(b) != string(record) {
			return nil
		}
		return os.Remove(lockPath)
	}, nil
}

// lockAge reads the timestamp recorded in a lock file, falling back to its
// modification time.
func lockAge(lockPath string) time.Duration {
	now := time.Now().UTC()
	if b, err := os.ReadFile(lockPath); err == nil && len(b) >= 12 {
		return now.Sub(time.Unix(0, int64(binary.LittleEndian.Uint64(b[4:12]))))
	}
	if info, err := os.Stat(lockPath); err == nil {
		return now.Sub(info.ModTime())
	}
	return 0
}
