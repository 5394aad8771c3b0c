package volume

import (
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/INLOpen/recstore/codec"
	"github.com/INLOpen/recstore/core"
)

// checked tracks every byte ever written to the wrapped volume and rejects
// reads that touch bytes never written. Tests use it to prove the store never
// reads uninitialised space.
type checked struct {
	Volume
	mu      sync.Mutex
	written *roaring64.Bitmap
}

// Checked wraps v. Bytes already present in v (up to its current length)
// count as written.
func Checked(v Volume) Volume {
	c := &checked{Volume: v, written: roaring64.New()}
	if l := v.Length(); l > 0 {
		c.written.AddRange(0, uint64(l))
	}
	return c
}

func (c *checked) mark(offset int64, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.written.AddRange(uint64(offset), uint64(offset)+uint64(n))
	c.mu.Unlock()
}

func (c *checked) require(op string, offset int64, n int) error {
	if n <= 0 {
		return nil
	}
	if offset < 0 {
		return fmt.Errorf("%w: %s at negative offset %d", core.ErrOutOfBounds, op, offset)
	}
	start, end := uint64(offset), uint64(offset)+uint64(n)
	c.mu.Lock()
	covered := c.written.Rank(end - 1)
	if start > 0 {
		covered -= c.written.Rank(start - 1)
	}
	c.mu.Unlock()
	if covered != end-start {
		return fmt.Errorf("%w: %s of %d bytes at %d touches unwritten space", core.ErrOutOfBounds, op, n, offset)
	}
	return nil
}

func (c *checked) Truncate(size int64) error {
	if err := c.Volume.Truncate(size); err != nil {
		return err
	}
	c.mu.Lock()
	c.written.RemoveRange(uint64(c.Volume.Length()), math.MaxUint64)
	c.mu.Unlock()
	return nil
}

func (c *checked) PutLong(offset int64, v uint64) error {
	c.mark(offset, 8)
	return c.Volume.PutLong(offset, v)
}

func (c *checked) GetLong(offset int64) (uint64, error) {
	if err := c.require("getLong", offset, 8); err != nil {
		return 0, err
	}
	return c.Volume.GetLong(offset)
}

func (c *checked) PutInt(offset int64, v uint32) error {
	c.mark(offset, 4)
	return c.Volume.PutInt(offset, v)
}

func (c *checked) GetInt(offset int64) (uint32, error) {
	if err := c.require("getInt", offset, 4); err != nil {
		return 0, err
	}
	return c.Volume.GetInt(offset)
}

func (c *checked) PutUnsignedShort(offset int64, v uint16) error {
	c.mark(offset, 2)
	return c.Volume.PutUnsignedShort(offset, v)
}

func (c *checked) GetUnsignedShort(offset int64) (uint16, error) {
	if err := c.require("getShort", offset, 2); err != nil {
		return 0, err
	}
	return c.Volume.GetUnsignedShort(offset)
}

func (c *checked) PutByte(offset int64, v byte) error {
	c.mark(offset, 1)
	return c.Volume.PutByte(offset, v)
}

func (c *checked) GetByte(offset int64) (byte, error) {
	if err := c.require("getByte", offset, 1); err != nil {
		return 0, err
	}
	return c.Volume.GetByte(offset)
}

func (c *checked) PutData(offset int64, src []byte) error {
	c.mark(offset, len(src))
	return c.Volume.PutData(offset, src)
}

func (c *checked) GetData(offset int64, dst []byte) error {
	if err := c.require("getData", offset, len(dst)); err != nil {
		return err
	}
	return c.Volume.GetData(offset, dst)
}

func (c *checked) PutPackedLong(offset int64, v uint64) (int, error) {
	c.mark(offset, codec.PackedLen(v))
	return c.Volume.PutPackedLong(offset, v)
}

func (c *checked) GetPackedLong(offset int64) (uint64, int, error) {
	if err := c.require("getPackedLong", offset, 1); err != nil {
		return 0, 0, err
	}
	v, n, err := c.Volume.GetPackedLong(offset)
	if err != nil {
		return 0, 0, err
	}
	if err := c.require("getPackedLong", offset, n); err != nil {
		return 0, 0, err
	}
	return v, n, nil
}

func (c *checked) Clear(start, end int64) error {
	c.mark(start, int(end-start))
	return c.Volume.Clear(start, end)
}

func (c *checked) TransferInto(offset int64, target Volume, targetOffset, size int64) error {
	return transferCopy(c, offset, target, targetOffset, size)
}
