package volume

import "github.com/INLOpen/recstore/core"

// readOnly wraps a volume and rejects every mutation with ErrWrongConfig.
type readOnly struct {
	Volume
}

// ReadOnly returns a view of v that cannot be modified through the view.
// Close is passed through; the view owns v.
func ReadOnly(v Volume) Volume {
	if _, ok := v.(readOnly); ok {
		return v
	}
	return readOnly{Volume: v}
}

// Unwrap returns the writable volume behind a read-only view.
func Unwrap(v Volume) Volume {
	if ro, ok := v.(readOnly); ok {
		return ro.Volume
	}
	return v
}

func denied(op string) error {
	return core.WrongConfigf("%s on read-only volume", op)
}

func (readOnly) EnsureAvailable(int64) error              { return denied("ensureAvailable") }
func (readOnly) Truncate(int64) error                     { return denied("truncate") }
func (readOnly) PutLong(int64, uint64) error              { return denied("putLong") }
func (readOnly) PutInt(int64, uint32) error               { return denied("putInt") }
func (readOnly) PutUnsignedShort(int64, uint16) error     { return denied("putShort") }
func (readOnly) PutByte(int64, byte) error                { return denied("putByte") }
func (readOnly) PutData(int64, []byte) error              { return denied("putData") }
func (readOnly) PutPackedLong(int64, uint64) (int, error) { return 0, denied("putPackedLong") }
func (readOnly) Clear(int64, int64) error                 { return denied("clear") }
func (readOnly) Sync() error                              { return nil }
func (readOnly) IsReadOnly() bool                         { return true }

func (r readOnly) TransferInto(offset int64, target Volume, targetOffset, size int64) error {
	return transferCopy(r, offset, target, targetOffset, size)
}
