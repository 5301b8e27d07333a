package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/goleak"

	"github.com/ondisk/tablexn/internal/logfile"
	"github.com/ondisk/tablexn/internal/tidier"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestTidier(fs afero.Fs) *tidier.Tidier {
	return tidier.New(fs)
}

func TestCommitDeletesObsoleteAfterReferencesRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	afero.WriteFile(fs, "/data/old.data", []byte("x"), 0o644)
	afero.WriteFile(fs, "/data/new.data", []byte("y"), 0o644)

	ti := newTestTidier(fs)
	txn, err := Begin(fs, "/data", logfile.OpCompaction, ti)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Close()

	if err := txn.TrackNew("new", 100, 1); err != nil {
		t.Fatalf("TrackNew: %v", err)
	}
	obs, err := txn.Obsolete("old", 90, 1)
	if err != nil {
		t.Fatalf("Obsolete: %v", err)
	}

	// Simulate a sub-handle: some other component also needs to hold the
	// old file open past commit.
	sub := obs.Ref()

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if exists, _ := afero.Exists(fs, "/data/old.data"); !exists {
		t.Fatal("old.data deleted before all Obsoletion references released")
	}

	obs.Release()
	if exists, _ := afero.Exists(fs, "/data/old.data"); !exists {
		t.Fatal("old.data deleted before sub-handle released")
	}

	sub.Release()
	if exists, _ := afero.Exists(fs, "/data/old.data"); exists {
		t.Fatal("old.data should be deleted once every reference released")
	}
	if exists, _ := afero.Exists(fs, "/data/new.data"); !exists {
		t.Fatal("new.data should survive a commit")
	}
}

func TestAbortDeletesNewFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	afero.WriteFile(fs, "/data/old.data", []byte("x"), 0o644)
	afero.WriteFile(fs, "/data/new.data", []byte("y"), 0o644)

	ti := newTestTidier(fs)
	txn, err := Begin(fs, "/data", logfile.OpCompaction, ti)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Close()

	if err := txn.TrackNew("new", 100, 1); err != nil {
		t.Fatalf("TrackNew: %v", err)
	}
	if _, err := txn.Obsolete("old", 90, 1); err != nil {
		t.Fatalf("Obsolete: %v", err)
	}

	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ti.WaitForDeletions(ctx); err != nil {
		t.Fatalf("WaitForDeletions: %v", err)
	}

	if exists, _ := afero.Exists(fs, "/data/new.data"); exists {
		t.Fatal("new.data should be deleted on abort")
	}
	if exists, _ := afero.Exists(fs, "/data/old.data"); !exists {
		t.Fatal("old.data should survive an abort")
	}
}

func TestUntrackNewDeletesUnconditionallyOnCommit(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	afero.WriteFile(fs, "/data/speculative.data", []byte("z"), 0o644)

	ti := newTestTidier(fs)
	txn, err := Begin(fs, "/data", logfile.OpFlush, ti)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Close()

	if err := txn.TrackNew("speculative", 100, 1); err != nil {
		t.Fatalf("TrackNew: %v", err)
	}
	if err := txn.UntrackNew("speculative", 100, 1); err != nil {
		t.Fatalf("UntrackNew: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if exists, _ := afero.Exists(fs, "/data/speculative.data"); exists {
		t.Fatal("untrackNew'd file should be deleted even on commit")
	}
}

func TestObsoletingOwnTrackNewSkipsRemoveRecordAndFlagsWasNew(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)

	ti := newTestTidier(fs)
	txn, err := Begin(fs, "/data", logfile.OpCompaction, ti)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Close()

	if err := txn.TrackNew("speculative", 100, 1); err != nil {
		t.Fatalf("TrackNew: %v", err)
	}

	obs, err := txn.Obsolete("speculative", 100, 1)
	if err != nil {
		t.Fatalf("Obsolete: %v", err)
	}
	if !obs.WasNew() {
		t.Fatal("expected WasNew to report true for a table tracked as ADD in this same transaction")
	}
	removes, err := txn.td.ObsoleteFiles()
	if err != nil {
		t.Fatalf("ObsoleteFiles: %v", err)
	}
	if len(removes) != 0 {
		t.Fatalf("expected no REMOVE record for a table tracked as ADD in this same transaction, got %+v", removes)
	}

	obs.Release()
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ti.WaitForDeletions(ctx); err != nil {
		t.Fatalf("WaitForDeletions: %v", err)
	}
	if got := ti.Snapshot().DiskUsageSkipped; got != 1 {
		t.Fatalf("DiskUsageSkipped = %d, want 1", got)
	}
	if got := ti.Snapshot().DiskUsageDecremented; got != 0 {
		t.Fatalf("DiskUsageDecremented = %d, want 0", got)
	}
}

func TestTrackNewRejectsDuplicateAdd(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	ti := newTestTidier(fs)
	txn, err := Begin(fs, "/data", logfile.OpFlush, ti)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Close()

	if err := txn.TrackNew("new", 100, 1); err != nil {
		t.Fatalf("first TrackNew: %v", err)
	}
	err = txn.TrackNew("new", 200, 1)
	if err == nil {
		t.Fatal("expected error tracking the same relPath as ADD twice in one transaction")
	}
	var iv *logfile.InvariantViolationError
	if !asLogfileInvariantViolation(err, &iv) {
		t.Fatalf("expected *logfile.InvariantViolationError, got %T: %v", err, err)
	}
}

func asLogfileInvariantViolation(err error, target **logfile.InvariantViolationError) bool {
	if iv, ok := err.(*logfile.InvariantViolationError); ok {
		*target = iv
		return true
	}
	return false
}

func TestCommitAfterCommitIsInvariantViolation(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	ti := newTestTidier(fs)
	txn, err := Begin(fs, "/data", logfile.OpFlush, ti)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Close()

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err = txn.Commit()
	if err == nil {
		t.Fatal("expected error on double commit")
	}
	var iv *logfile.InvariantViolationError
	if !asLogfileInvariantViolation(err, &iv) {
		t.Fatalf("expected *logfile.InvariantViolationError, got %T: %v", err, err)
	}
}
