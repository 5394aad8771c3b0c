package sys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// renameImpl is swapped by tests to force the copy fallback.
var renameImpl = os.Rename

// Rename moves oldpath to newpath and syncs the target directory. When the
// rename itself fails (cross-device moves, some network filesystems) the file
// is copied, synced and the source removed.
func Rename(oldpath, newpath string) error {
	if err := renameImpl(oldpath, newpath); err == nil {
		return SyncDir(filepath.Dir(newpath))
	}
	if err := copyFile(oldpath, newpath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldpath, newpath, err)
	}
	if err := SyncDir(filepath.Dir(newpath)); err != nil {
		return err
	}
	return Remove(oldpath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SyncDir fsyncs a directory so renames and creates inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !os.IsPermission(err) {
		return err
	}
	return nil
}
