package store

import (
	"log/slog"
	"time"

	"github.com/INLOpen/recstore/config"
	"github.com/INLOpen/recstore/core"
	"github.com/INLOpen/recstore/hooks"
	"github.com/INLOpen/recstore/sys"
	"github.com/INLOpen/recstore/volume"
	"github.com/INLOpen/recstore/wal"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultSegments      = 16
	DefaultReplayEveryTx = 16
)

// Options configures a store.
type Options struct {
	// Path is the store file. Empty means an in-memory store.
	Path       string
	VolumeKind volume.Kind
	SliceShift uint
	// Segments is the number of index lock segments, fixed for the life of
	// an open store.
	Segments int

	// Transactions enables the write-ahead log.
	Transactions bool
	// ReplayEveryTx folds the log into the store file every n commits.
	ReplayEveryTx int
	SyncMode      wal.SyncMode

	Compression    core.CompressionType
	RecordChecksum bool

	// CacheCapacity above zero wraps the store in a record cache.
	CacheCapacity int

	ReadOnly           bool
	LockStaleTTL       time.Duration
	ParallelCompaction bool
	Preallocate        bool
	// Debug enables internal consistency assertions and, process-wide,
	// tracking of open file handles (sys.OpenFileNames).
	Debug bool

	Logger         *slog.Logger
	HookManager    hooks.HookManager
	Metrics        *Metrics
	TracerProvider trace.TracerProvider

	// noLock skips the file lock; compaction targets are private files.
	noLock bool
}

// OptionsFromConfig translates a loaded configuration.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) (Options, error) {
	kind, err := volume.ParseKind(cfg.Store.Volume)
	if err != nil {
		return Options{}, err
	}
	ct, err := core.ParseCompressionType(cfg.Store.Compression)
	if err != nil {
		return Options{}, err
	}
	path := cfg.Store.Path
	if !kind.IsFile() {
		path = ""
	}
	return Options{
		Path:               path,
		VolumeKind:         kind,
		SliceShift:         cfg.Store.SliceShift,
		Segments:           cfg.Store.Segments,
		Transactions:       cfg.Store.Transactions,
		ReplayEveryTx:      cfg.Store.ReplayEveryTx,
		SyncMode:           wal.SyncMode(cfg.WAL.SyncMode),
		Compression:        ct,
		RecordChecksum:     cfg.Store.RecordChecksum,
		CacheCapacity:      cfg.Store.CacheCapacity,
		ReadOnly:           cfg.Store.ReadOnly,
		LockStaleTTL:       config.ParseDuration(cfg.Store.LockStaleTTL, sys.DefaultLockStaleTTL, logger),
		ParallelCompaction: cfg.Store.ParallelCompaction,
		Preallocate:        cfg.Store.Preallocate,
		Debug:              cfg.Store.Debug,
		Logger:             logger,
	}, nil
}

func (o Options) withDefaults() (Options, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.VolumeKind == "" {
		o.VolumeKind = volume.KindMemory
		if o.Path != "" {
			o.VolumeKind = volume.KindMMap
		}
	}
	if o.VolumeKind.IsFile() && o.Path == "" {
		return o, core.WrongConfigf("volume kind %s needs a path", o.VolumeKind)
	}
	if !o.VolumeKind.IsFile() {
		o.Path = ""
	}
	if o.Segments <= 0 {
		o.Segments = DefaultSegments
	}
	if o.ReplayEveryTx <= 0 {
		o.ReplayEveryTx = DefaultReplayEveryTx
	}
	if o.SyncMode == "" {
		o.SyncMode = wal.SyncAlways
	}
	if o.LockStaleTTL <= 0 {
		o.LockStaleTTL = sys.DefaultLockStaleTTL
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(false, "")
	}
	if o.TracerProvider == nil {
		o.TracerProvider = noop.NewTracerProvider()
	}
	if o.HookManager == nil {
		o.HookManager = hooks.NewHookManager(o.Logger)
	}
	return o, nil
}

func (o Options) features() core.Features {
	return core.NewFeatures(o.Compression, o.RecordChecksum)
}

func (o Options) volumeOptions() volume.Options {
	return volume.Options{
		SliceShift:  o.SliceShift,
		ReadOnly:    o.ReadOnly,
		Preallocate: o.Preallocate,
		Logger:      o.Logger,
	}
}
