package fsprim

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicRename renames src to dst and fsyncs dst's parent directory so the
// rename survives a crash. src and dst must be on the same filesystem.
func AtomicRename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("atomic rename %s -> %s: %w", src, dst, err)
	}
	return FsyncDir(filepath.Dir(dst))
}
