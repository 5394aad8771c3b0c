package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlipBit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0xF0}, 0o644))
	FlipBit(t, path, 1, 0)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xF1}, data)
}

func TestListWALFiles(t *testing.T) {
	storePath := TempStorePath(t)
	dir := filepath.Dir(storePath)
	for _, name := range []string{"store.db.00000002.wal", "store.db.00000001.wal", "other.db.00000001.wal", "store.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	files, err := ListWALFiles(storePath)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "store.db.00000001.wal"),
		filepath.Join(dir, "store.db.00000002.wal"),
	}, files)
}

func TestRandomBytesDeterministic(t *testing.T) {
	assert.Equal(t, RandomBytes(7, 32), RandomBytes(7, 32))
	assert.NotEqual(t, RandomBytes(7, 32), RandomBytes(8, 32))
}
