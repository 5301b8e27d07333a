//go:build fsync_audit

package fsprim

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// This file is compiled only with -tags fsync_audit. It shadows FsyncFile
// and FsyncDir with counting versions so tests can assert how many file
// and directory fsyncs an operation performed without threading a mock
// filesystem through every call site.

type fsyncAudit struct {
	mu        sync.Mutex
	fileCount int64
	dirCount  int64
	dirPaths  []string
}

var audit = &fsyncAudit{}

// FsyncFile flushes file content and metadata to stable storage, counting
// the call for audit purposes.
func FsyncFile(f *os.File) error {
	if f == nil {
		return fmt.Errorf("fsync file: nil file")
	}
	atomic.AddInt64(&audit.fileCount, 1)
	fmt.Fprintf(os.Stderr, "AUDIT: fsync.file path=%s\n", f.Name())
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync file %s: %w", f.Name(), err)
	}
	return nil
}

// FsyncDir flushes a directory's metadata, counting the call for audit
// purposes.
func FsyncDir(dirPath string) error {
	if dirPath == "" {
		return fmt.Errorf("fsync dir: empty path")
	}
	atomic.AddInt64(&audit.dirCount, 1)
	audit.mu.Lock()
	audit.dirPaths = append(audit.dirPaths, dirPath)
	audit.mu.Unlock()
	fmt.Fprintf(os.Stderr, "AUDIT: fsync.dir path=%s\n", dirPath)

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

// Stats returns the number of file and directory fsyncs observed so far.
func Stats() (fileCount, dirCount int64) {
	return atomic.LoadInt64(&audit.fileCount), atomic.LoadInt64(&audit.dirCount)
}

// ResetStats zeroes the audit counters between test cases.
func ResetStats() {
	atomic.StoreInt64(&audit.fileCount, 0)
	atomic.StoreInt64(&audit.dirCount, 0)
	audit.mu.Lock()
	audit.dirPaths = nil
	audit.mu.Unlock()
}
