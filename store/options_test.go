package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/recstore/config"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/internal/testutil"
	"github.com/INLOpen/recstore/volume"
	"github.com/INLOpen/recstore/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	yaml := `
store:
  path: ` + path + `
  volume: file
  transactions: true
  replay_every_tx: 4
  compression: zstd
  record_checksum: true
  cache_capacity: 32
  lock_stale_ttl: 5s
wal:
  sync_mode: disabled
`
	cfg, err := config.Load(strings.NewReader(yaml))
	require.NoError(t, err)
	opts, err := OptionsFromConfig(cfg, testutil.DiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, path, opts.Path)
	assert.Equal(t, volume.KindFile, opts.VolumeKind)
	assert.Equal(t, core.CompressionZSTD, opts.Compression)
	assert.Equal(t, wal.SyncDisabled, opts.SyncMode)
	assert.Equal(t, 5*time.Second, opts.LockStaleTTL)
	assert.True(t, opts.RecordChecksum)

	e, err := Open(opts)
	require.NoError(t, err)
	defer e.Close()
	recid, err := e.Put([]byte("configured"))
	require.NoError(t, err)
	require.NoError(t, e.Commit())
	got, err := e.Get(recid)
	require.NoError(t, err)
	assert.Equal(t, []byte("configured"), got)
}

func TestOptionsFromConfig_MemoryDropsPath(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Volume = "memory"
	opts, err := OptionsFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, opts.Path)

	cfg.Store.Compression = "brotli"
	_, err = OptionsFromConfig(cfg, nil)
	require.ErrorIs(t, err, core.ErrWrongConfig)
}
