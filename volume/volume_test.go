package volume

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/INLOpen/recstore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShift = 12 // 4 KiB slices keep tests small

func backends(t *testing.T) map[string]func() Volume {
	dir := t.TempDir()
	opts := Options{SliceShift: testShift}
	return map[string]func() Volume{
		"memory": func() Volume { return NewByteArray(opts) },
		"raw":    func() Volume { return NewRawMemory(opts) },
		"mmap": func() Volume {
			v, err := NewMappedFile(filepath.Join(dir, "mmap.vol"), opts)
			require.NoError(t, err)
			return v
		},
		"file": func() Volume {
			v, err := NewFileChannel(filepath.Join(dir, "file.vol"), opts)
			require.NoError(t, err)
			return v
		},
	}
}

func TestVolume_Contract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v := open()
			defer v.Close()

			require.NoError(t, v.EnsureAvailable(10_000))
			assert.GreaterOrEqual(t, v.Length(), int64(10_000))

			require.NoError(t, v.PutLong(8, 0x0102030405060708))
			got, err := v.GetLong(8)
			require.NoError(t, err)
			assert.Equal(t, uint64(0x0102030405060708), got)
			b, err := v.GetByte(8)
			require.NoError(t, err)
			assert.Equal(t, byte(1), b, "values are big-endian")

			require.NoError(t, v.PutInt(100, 0xDEADBEEF))
			i, err := v.GetInt(100)
			require.NoError(t, err)
			assert.Equal(t, uint32(0xDEADBEEF), i)

			require.NoError(t, v.PutUnsignedShort(200, 0xFFFE))
			s, err := v.GetUnsignedShort(200)
			require.NoError(t, err)
			assert.Equal(t, uint16(0xFFFE), s)

			require.NoError(t, v.PutByte(300, 0x7F))
			b, err = v.GetByte(300)
			require.NoError(t, err)
			assert.Equal(t, byte(0x7F), b)

			n, err := v.PutPackedLong(400, 1<<40)
			require.NoError(t, err)
			pv, pn, err := v.GetPackedLong(400)
			require.NoError(t, err)
			assert.Equal(t, uint64(1<<40), pv)
			assert.Equal(t, n, pn)

			data := []byte("some record bytes")
			require.NoError(t, v.PutData(500, data))
			buf := make([]byte, len(data))
			require.NoError(t, v.GetData(500, buf))
			assert.Equal(t, data, buf)

			require.NoError(t, v.Clear(500, 505))
			require.NoError(t, v.GetData(500, buf))
			assert.Equal(t, make([]byte, 5), buf[:5])
			assert.Equal(t, data[5:], buf[5:])

			require.NoError(t, v.Sync())
		})
	}
}

func TestVolume_BeyondLengthIsVolumeError(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v := open()
			defer v.Close()
			require.NoError(t, v.EnsureAvailable(1))
			_, err := v.GetLong(v.Length())
			assert.ErrorIs(t, err, core.ErrVolumeIO)
		})
	}
}

func TestVolume_ClosedReturnsErrClosed(t *testing.T) {
	v := NewByteArray(Options{SliceShift: testShift})
	require.NoError(t, v.EnsureAvailable(64))
	require.NoError(t, v.Close())
	_, err := v.GetLong(0)
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.NoError(t, v.Close(), "second close is a no-op")
}

func TestSliced_FixedWidthMustNotCrossSlice(t *testing.T) {
	v := NewByteArray(Options{SliceShift: testShift})
	require.NoError(t, v.EnsureAvailable(2 << testShift))
	err := v.PutLong(1<<testShift-4, 1)
	assert.ErrorIs(t, err, ErrCrossesSlice)
}

func TestOverlap_StitchesAcrossSlices(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v := open()
			defer v.Close()
			data := bytes.Repeat([]byte("0123456789"), 1000)
			start := int64(1<<testShift - 37)
			require.NoError(t, v.EnsureAvailable(start+int64(len(data))))
			require.NoError(t, PutDataOverlap(v, start, data))
			got := make([]byte, len(data))
			require.NoError(t, GetDataOverlap(v, start, got))
			assert.Equal(t, data, got)
		})
	}
}

func TestTransferInto(t *testing.T) {
	src := NewByteArray(Options{SliceShift: testShift})
	dst := NewByteArray(Options{SliceShift: testShift + 1})
	defer src.Close()
	defer dst.Close()

	data := bytes.Repeat([]byte{0xAB, 0xCD}, 5000)
	require.NoError(t, src.EnsureAvailable(int64(len(data))+10))
	require.NoError(t, PutDataOverlap(src, 10, data))

	require.NoError(t, src.TransferInto(10, dst, 3, int64(len(data))))
	got := make([]byte, len(data))
	require.NoError(t, GetDataOverlap(dst, 3, got))
	assert.Equal(t, data, got)
}

func TestTruncate_ShrinksToWholeSlices(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v := open()
			defer v.Close()
			require.NoError(t, v.EnsureAvailable(5<<testShift))
			require.NoError(t, v.Truncate(1<<testShift+1))
			assert.Equal(t, int64(2<<testShift), v.Length())
		})
	}
}

func TestEnsureAvailable_ConcurrentWithReads(t *testing.T) {
	v := NewByteArray(Options{SliceShift: testShift})
	defer v.Close()
	require.NoError(t, v.EnsureAvailable(1<<testShift))
	require.NoError(t, v.PutLong(0, 42))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(2); i < 200; i++ {
			assert.NoError(t, v.EnsureAvailable(i<<testShift))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10_000; i++ {
			got, err := v.GetLong(0)
			assert.NoError(t, err)
			assert.Equal(t, uint64(42), got)
		}
	}()
	wg.Wait()
	assert.Equal(t, int64(199<<testShift), v.Length())
}

func TestMappedFile_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.vol")
	v, err := NewMappedFile(path, Options{SliceShift: testShift})
	require.NoError(t, err)
	require.NoError(t, v.EnsureAvailable(3<<testShift))
	require.NoError(t, v.PutLong(2<<testShift+16, 77))
	require.NoError(t, v.Sync())
	require.NoError(t, v.Close())

	ro, err := NewMappedFile(path, Options{SliceShift: testShift, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.IsReadOnly())
	got, err := ro.GetLong(2<<testShift + 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), got)
	assert.ErrorIs(t, ro.PutLong(0, 1), core.ErrWrongConfig)
}

func TestFileChannel_ReadsMappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.vol")
	v, err := NewMappedFile(path, Options{SliceShift: testShift})
	require.NoError(t, err)
	require.NoError(t, v.EnsureAvailable(100))
	require.NoError(t, v.PutData(10, []byte("shared")))
	require.NoError(t, v.Close())

	fc, err := NewFileChannel(path, Options{SliceShift: testShift})
	require.NoError(t, err)
	defer fc.Close()
	assert.Equal(t, int64(1<<testShift), fc.Length())
	buf := make([]byte, 6)
	require.NoError(t, fc.GetData(10, buf))
	assert.Equal(t, "shared", string(buf))
}

func TestReadOnly_RejectsMutation(t *testing.T) {
	inner := NewByteArray(Options{SliceShift: testShift})
	require.NoError(t, inner.EnsureAvailable(64))
	require.NoError(t, inner.PutLong(0, 9))

	ro := ReadOnly(inner)
	defer ro.Close()
	assert.True(t, ro.IsReadOnly())
	assert.Same(t, inner, Unwrap(ro))

	got, err := ro.GetLong(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got)

	assert.ErrorIs(t, ro.PutLong(0, 1), core.ErrWrongConfig)
	assert.ErrorIs(t, ro.PutData(0, []byte{1}), core.ErrWrongConfig)
	assert.ErrorIs(t, ro.Clear(0, 8), core.ErrWrongConfig)
	assert.ErrorIs(t, ro.EnsureAvailable(1<<20), core.ErrWrongConfig)
	_, err = ro.PutPackedLong(0, 1)
	assert.ErrorIs(t, err, core.ErrWrongConfig)
}

func TestChecked_RejectsUnwrittenRanges(t *testing.T) {
	inner := NewByteArray(Options{SliceShift: testShift})
	require.NoError(t, inner.EnsureAvailable(1<<testShift))
	v := Checked(inner)
	defer v.Close()

	// Pre-existing length counts as written.
	_, err := v.GetLong(0)
	require.NoError(t, err)

	require.NoError(t, v.EnsureAvailable(3<<testShift))
	_, err = v.GetLong(2 << testShift)
	assert.ErrorIs(t, err, core.ErrOutOfBounds)
	assert.False(t, core.IsCorruption(err))

	require.NoError(t, v.PutInt(2<<testShift, 1))
	_, err = v.GetLong(2 << testShift)
	assert.ErrorIs(t, err, core.ErrOutOfBounds, "half written")

	require.NoError(t, v.PutInt(2<<testShift+4, 2))
	got, err := v.GetLong(2 << testShift)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<32|2), got)

	require.NoError(t, v.Clear(2<<testShift+100, 2<<testShift+200))
	buf := make([]byte, 100)
	assert.NoError(t, v.GetData(2<<testShift+100, buf))
}

func TestFactory(t *testing.T) {
	for _, s := range []string{"memory", "raw", "mmap", "file", ""} {
		kind, err := ParseKind(s)
		require.NoError(t, err)
		f, err := NewFactory(kind)
		require.NoError(t, err)
		v, err := f(filepath.Join(t.TempDir(), "f.vol"), Options{SliceShift: testShift})
		require.NoError(t, err)
		require.NoError(t, v.EnsureAvailable(10))
		require.NoError(t, v.Close())
	}
	_, err := ParseKind("tape")
	assert.ErrorIs(t, err, core.ErrWrongConfig)
	assert.True(t, KindMMap.IsFile())
	assert.False(t, KindRaw.IsFile())
}
