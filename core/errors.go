package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the store. Concrete errors wrap one of these so
// callers can branch with errors.Is.
var (
	// ErrNotFound is returned by Get/Update/Delete for a recid that was deleted.
	ErrNotFound = errors.New("record not found")
	// ErrVoidAccess is returned for a recid that was never allocated.
	ErrVoidAccess = errors.New("recid was never allocated")
	// ErrDataCorruption marks parity, checksum and bookkeeping failures.
	ErrDataCorruption = errors.New("data corruption")
	// ErrVolumeIO wraps failures of the underlying file or memory.
	ErrVolumeIO = errors.New("volume i/o error")
	// ErrFileLocked is returned at open time when another owner holds the store.
	ErrFileLocked = errors.New("store file is locked")
	// ErrWrongConfig is returned for operations the store variant does not support.
	ErrWrongConfig = errors.New("operation not supported by store configuration")
	// ErrInterrupted is returned when a blocking wait was cancelled. It is retryable.
	ErrInterrupted = errors.New("operation interrupted")
	// ErrOutOfBounds is returned by checked volumes for ranges never written.
	ErrOutOfBounds = errors.New("volume access out of bounds")
	// ErrClosed is returned by any operation on a closed store or volume.
	ErrClosed = errors.New("store is closed")
)

// CorruptionError describes where corruption was detected.
type CorruptionError struct {
	Op     string
	Offset int64
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("data corruption in %s at offset %d: %s", e.Op, e.Offset, e.Reason)
	}
	return fmt.Sprintf("data corruption in %s: %s", e.Op, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrDataCorruption }

// NewCorruptionError builds a CorruptionError. Use offset -1 when no offset applies.
func NewCorruptionError(op string, offset int64, format string, args ...any) error {
	return &CorruptionError{Op: op, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// VolumeError wraps a platform error raised while touching a volume.
type VolumeError struct {
	Op   string
	Path string
	Err  error
}

func (e *VolumeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("volume %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("volume %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the kind and the platform cause.
func (e *VolumeError) Unwrap() []error { return []error{ErrVolumeIO, e.Err} }

// NewVolumeError wraps err unless it is nil or already a kind we surface as-is.
func NewVolumeError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVolumeIO) || errors.Is(err, ErrOutOfBounds) || errors.Is(err, ErrWrongConfig) || errors.Is(err, ErrClosed) {
		return err
	}
	return &VolumeError{Op: op, Path: path, Err: err}
}

// IsCorruption reports whether err is (or wraps) a data corruption error.
func IsCorruption(err error) bool {
	var corruptionError *CorruptionError
	return errors.As(err, &corruptionError) || errors.Is(err, ErrDataCorruption)
}

// IsNotFound reports whether err means the record is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrVoidAccess)
}

// WrongConfigf returns an ErrWrongConfig with context.
func WrongConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWrongConfig, fmt.Sprintf(format, args...))
}
