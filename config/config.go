package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig holds the record store settings.
type StoreConfig struct {
	Path               string `yaml:"path"`
	Volume             string `yaml:"volume"` // "memory", "raw", "mmap" or "file"
	SliceShift         uint   `yaml:"slice_shift"`
	Segments           int    `yaml:"segments"`
	Transactions       bool   `yaml:"transactions"`
	ReplayEveryTx      int    `yaml:"replay_every_tx"`
	Compression        string `yaml:"compression"`
	RecordChecksum     bool   `yaml:"record_checksum"`
	CacheCapacity      int    `yaml:"cache_capacity"`
	ReadOnly           bool   `yaml:"read_only"`
	LockStaleTTL       string `yaml:"lock_stale_ttl"`
	ParallelCompaction bool   `yaml:"parallel_compaction"`
	Preallocate        bool   `yaml:"preallocate"`
	Debug              bool   `yaml:"debug"`
}

// WALConfig holds Write-Ahead Log specific configurations.
type WALConfig struct {
	SyncMode string `yaml:"sync_mode"` // "always" or "disabled"
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// Config is the top-level configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	WAL     WALConfig     `yaml:"wal"`
	Logging LoggingConfig `yaml:"logging"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:               "./data/store.db",
			Volume:             "mmap",
			SliceShift:         20, // 1 MiB slices
			Segments:           16,
			Transactions:       true,
			ReplayEveryTx:      16,
			Compression:        "none",
			RecordChecksum:     false,
			CacheCapacity:      0,
			LockStaleTTL:       "30s",
			ParallelCompaction: true,
		},
		WAL: WALConfig{
			SyncMode: "always",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "recstore.log",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

func (c *Config) validate() error {
	switch c.Store.Volume {
	case "memory", "raw", "mmap", "file":
	default:
		return fmt.Errorf("invalid store.volume %q", c.Store.Volume)
	}
	if c.Store.Segments < 1 {
		return fmt.Errorf("store.segments must be positive, got %d", c.Store.Segments)
	}
	switch c.WAL.SyncMode {
	case "always", "disabled":
	default:
		return fmt.Errorf("invalid wal.sync_mode %q", c.WAL.SyncMode)
	}
	return nil
}

// NewLogger builds a JSON slog logger from the logging section. The returned
// closer releases the log file, if one was opened.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "none":
		out = io.Discard
	case "file":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		out, closer = f, f
	default:
		return nil, nil, fmt.Errorf("invalid log output %q", cfg.Output)
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
