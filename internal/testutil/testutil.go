// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TempStorePath returns a store file path inside a fresh test directory.
func TempStorePath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.db")
}

// RandomBytes returns n deterministic pseudo-random bytes for seed.
func RandomBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// FlipBit inverts one bit of the file at path.
func FlipBit(t testing.TB, path string, offset int64, bit uint) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		t.Fatalf("read %s at %d: %v", path, offset, err)
	}
	b[0] ^= 1 << (bit & 7)
	if _, err := f.WriteAt(b[:], offset); err != nil {
		t.Fatalf("write %s at %d: %v", path, offset, err)
	}
}

// ListWALFiles returns the log files that belong to the store at storePath.
func ListWALFiles(storePath string) ([]string, error) {
	dir, base := filepath.Split(storePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base+".") && strings.HasSuffix(e.Name(), ".wal") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RequireNoWALFiles fails the test if any log file of the store remains.
func RequireNoWALFiles(t testing.TB, storePath string) {
	t.Helper()
	files, err := ListWALFiles(storePath)
	if err != nil {
		t.Fatalf("list WAL files: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no WAL files for %s, found %v", storePath, files)
	}
}
