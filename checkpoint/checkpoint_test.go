package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/recstore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_WriteAndRead(t *testing.T) {
	store := filepath.Join(t.TempDir(), "data.db")
	m := Marker{Phase: PhaseBuilding, MaxRecid: 123}

	require.NoError(t, Write(store, m))
	_, err := os.Stat(Path(store))
	require.NoError(t, err, "marker should exist after write")
	_, err = os.Stat(tempPath(store))
	require.True(t, os.IsNotExist(err), "temp marker should be gone after a successful write")

	got, found, err := Read(store)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, m, got)
	assert.True(t, Exists(store))
}

func TestMarker_Read_NonExistent(t *testing.T) {
	store := filepath.Join(t.TempDir(), "data.db")
	m, found, err := Read(store)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Marker{}, m)
	assert.False(t, Exists(store))
}

func TestMarker_Overwrite(t *testing.T) {
	store := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, Write(store, Marker{Phase: PhaseBuilding, MaxRecid: 10}))
	require.NoError(t, Write(store, Marker{Phase: PhaseSwapping, MaxRecid: 10}))

	got, found, err := Read(store)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, PhaseSwapping, got.Phase)
}

func TestMarker_Read_Corrupted(t *testing.T) {
	store := filepath.Join(t.TempDir(), "data.db")

	t.Run("BadMagicNumber", func(t *testing.T) {
		bad := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}
		require.NoError(t, os.WriteFile(Path(store), bad, 0o644))
		_, found, err := Read(store)
		assert.True(t, found)
		assert.ErrorIs(t, err, core.ErrDataCorruption)
		assert.Contains(t, err.Error(), "invalid magic number")
	})

	t.Run("TruncatedFile", func(t *testing.T) {
		require.NoError(t, os.WriteFile(Path(store), []byte{0x43, 0x4B, 0x50, 0x54, 0x01}, 0o644))
		_, found, err := Read(store)
		assert.True(t, found)
		assert.ErrorIs(t, err, core.ErrDataCorruption)
	})
}

func TestMarker_DanglingTempIsIgnoredByRead(t *testing.T) {
	store := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, Write(store, Marker{Phase: PhaseBuilding, MaxRecid: 99}))
	// A crash between temp creation and rename leaves the temp file behind.
	require.NoError(t, os.WriteFile(tempPath(store), []byte("partial"), 0o644))

	got, found, err := Read(store)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(99), got.MaxRecid)

	require.NoError(t, Remove(store))
	assert.False(t, Exists(store))
}
