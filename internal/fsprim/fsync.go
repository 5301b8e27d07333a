//go:build !fsync_audit

package fsprim

import (
	"fmt"
	"os"
)

// FsyncFile flushes file content and metadata to stable storage.
func FsyncFile(f *os.File) error {
	if f == nil {
		return fmt.Errorf("fsync file: nil file")
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync file %s: %w", f.Name(), err)
	}
	return nil
}

// FsyncDir flushes a directory's metadata so that renames/creates/removes
// within it are durable. This is the step required between a log append
// and the physical deletion it authorizes, and after every terminator
// appended to the log itself.
//
// Fsyncing a directory is POSIX behavior; it is unsupported on some
// filesystems (notably network filesystems and some container overlay
// filesystems) where Sync returns ENOTSUP or a permission error. That
// reduced guarantee is surfaced to the caller as an error rather than
// silently swallowed.
func FsyncDir(dirPath string) error {
	if dirPath == "" {
		return fmt.Errorf("fsync dir: empty path")
	}
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("fsync dir %s: open: %w", dirPath, err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsync dir %s: %w", dirPath, err)
	}
	return nil
}
