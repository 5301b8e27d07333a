package logfile

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newMemFs() afero.Fs {
	return afero.NewMemMapFs()
}

func TestCreateAppendReadCommit(t *testing.T) {
	fs := newMemFs()
	lf, err := Create(fs, "txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer lf.Close()

	if ok, err := lf.AppendAdd("tables/new.data", 1000, 3); err != nil || !ok {
		t.Fatalf("AppendAdd: ok=%v err=%v", ok, err)
	}
	if ok, err := lf.AppendRemove("tables/old.data", 900, 2); err != nil || !ok {
		t.Fatalf("AppendRemove: ok=%v err=%v", ok, err)
	}
	if err := lf.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	records, err := lf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if !lf.HasCommit() || lf.HasAbort() {
		t.Fatalf("expected HasCommit=true HasAbort=false, got %v/%v", lf.HasCommit(), lf.HasAbort())
	}

	adds, err := lf.TrackedFiles(KindAdd)
	if err != nil {
		t.Fatalf("TrackedFiles(add): %v", err)
	}
	if len(adds) != 1 || adds[0].RelPath != "tables/new.data" {
		t.Fatalf("unexpected add-tracked files: %+v", adds)
	}

	removes, err := lf.DeleteRecords()
	if err != nil {
		t.Fatalf("DeleteRecords: %v", err)
	}
	if len(removes) != 1 || removes[0].RelPath != "tables/old.data" {
		t.Fatalf("unexpected delete records: %+v", removes)
	}
}

func TestAbortAfterCommitIsInvariantViolation(t *testing.T) {
	fs := newMemFs()
	lf, err := Create(fs, "txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer lf.Close()

	if err := lf.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err = lf.Abort()
	if err == nil {
		t.Fatal("expected error appending after terminator, got nil")
	}
	var iv *InvariantViolationError
	if !asInvariantViolation(err, &iv) {
		t.Fatalf("expected *InvariantViolationError, got %T: %v", err, err)
	}
}

func asInvariantViolation(err error, target **InvariantViolationError) bool {
	if iv, ok := err.(*InvariantViolationError); ok {
		*target = iv
		return true
	}
	return false
}

func TestTruncatedLastLineIsBenign(t *testing.T) {
	fs := newMemFs()
	lf, err := Create(fs, "txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := lf.AppendAdd("tables/new.data", 1000, 1); err != nil || !ok {
		t.Fatalf("AppendAdd: ok=%v err=%v", ok, err)
	}
	if err := lf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write: append a partial, unterminated line
	// directly, bypassing LogFile so no checksum/newline completes it.
	f, err := fs.OpenFile("txn.log", os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteString("remove:[tables/half.data,500,1"); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	reopened, err := Open(fs, "txn.log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	records, err := reopened.Read()
	if err != nil {
		t.Fatalf("Read should tolerate truncated last line, got: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (partial line dropped)", len(records))
	}
	if reopened.Terminated() {
		t.Fatal("expected no terminator to have been recognized")
	}
}

func TestChecksumMismatchOnNonFinalLineIsCorrupt(t *testing.T) {
	fs := newMemFs()
	raw := "add:[tables/a.data,1,1][999999]\ncommit:[,0,0][1]\n"
	if err := afero.WriteFile(fs, "txn.log", []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(fs, "txn.log")
	if err == nil {
		t.Fatal("expected corruption error, got nil")
	}
	var cerr *CorruptLogError
	if !strings.Contains(err.Error(), "corrupt log") && !asCorrupt(err, &cerr) {
		t.Fatalf("expected CorruptLogError, got %T: %v", err, err)
	}
}

func asCorrupt(err error, target **CorruptLogError) bool {
	if c, ok := err.(*CorruptLogError); ok {
		*target = c
		return true
	}
	return false
}

func TestCaseInsensitiveKind(t *testing.T) {
	// The grammar tolerates any case for the kind keyword as long as the
	// checksum matches the literal bytes actually written. Build a line
	// with an upper-cased keyword and its own correctly-computed checksum,
	// rather than flipping case on an already-signed line, which would
	// legitimately fail as tampering.
	prefix := "ADD:[tables/a.data,1,1]"
	crc := newRunningCRC()
	sum := crc.update(prefix)
	raw := prefix + "[" + itoa(sum) + "]\n"

	fs := newMemFs()
	if err := afero.WriteFile(fs, "txn.log", []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lf, err := Open(fs, "txn.log")
	if err != nil {
		t.Fatalf("Open upper-cased log: %v", err)
	}
	records, err := lf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 || records[0].Kind != KindAdd {
		t.Fatalf("expected one normalized ADD record, got %+v", records)
	}
}

func itoa(v uint32) string {
	return fmt.Sprintf("%d", v)
}

func TestAppendDeduplicatesKindRelPath(t *testing.T) {
	fs := newMemFs()
	lf, err := Create(fs, "txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer lf.Close()

	ok, err := lf.AppendAdd("tables/new.data", 1000, 1)
	if err != nil || !ok {
		t.Fatalf("first AppendAdd: ok=%v err=%v", ok, err)
	}

	ok, err = lf.AppendAdd("tables/new.data", 2000, 9)
	if err != nil {
		t.Fatalf("second AppendAdd: %v", err)
	}
	if ok {
		t.Fatal("expected second AppendAdd for the same (kind, relpath) to report false")
	}

	records, err := lf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 || records[0].UpdateTimeMs != 1000 {
		t.Fatalf("expected the log unchanged by the rejected duplicate, got %+v", records)
	}
}

func TestAppendDeduplicatesAcrossReplay(t *testing.T) {
	fs := newMemFs()
	lf, err := Create(fs, "txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := lf.AppendAdd("tables/new.data", 1000, 1); err != nil || !ok {
		t.Fatalf("AppendAdd: ok=%v err=%v", ok, err)
	}
	if err := lf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenForAppend(fs, "txn.log")
	if err != nil {
		t.Fatalf("OpenForAppend: %v", err)
	}
	defer reopened.Close()

	ok, err := reopened.AppendAdd("tables/new.data", 1000, 1)
	if err != nil {
		t.Fatalf("AppendAdd after reopen: %v", err)
	}
	if ok {
		t.Fatal("expected the record replayed from disk to dedupe a repeat after reopen")
	}
}

func TestReplayDetectsTamperedRemoveRecord(t *testing.T) {
	fs := newMemFs()
	if err := afero.WriteFile(fs, "tables/old.data", []byte("stale bytes"), 0o644); err != nil {
		t.Fatalf("seed component file: %v", err)
	}
	info, err := fs.Stat("tables/old.data")
	if err != nil {
		t.Fatalf("stat seeded file: %v", err)
	}
	staleMtime := info.ModTime().UnixMilli()

	lf, err := Create(fs, "tables/txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := lf.AppendRemove("old", staleMtime+1, 1); err != nil || !ok {
		t.Fatalf("AppendRemove: ok=%v err=%v", ok, err)
	}
	if err := lf.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	lf.Close()

	_, err = Open(fs, "tables/txn.log")
	if err == nil {
		t.Fatal("expected replay to reject a REMOVE record whose update_time no longer matches the on-disk file")
	}
	var cerr *CorruptLogError
	if !asCorrupt(err, &cerr) {
		t.Fatalf("expected *CorruptLogError, got %T: %v", err, err)
	}
}

func TestReplaySkipsRemoveVerificationWhenAlreadyReclaimed(t *testing.T) {
	fs := newMemFs()
	lf, err := Create(fs, "tables/txn.log")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := lf.AppendRemove("old.data", 12345, 1); err != nil || !ok {
		t.Fatalf("AppendRemove: ok=%v err=%v", ok, err)
	}
	if err := lf.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	lf.Close()

	// No tables/old.data* component ever existed: this is the state a
	// committed log is in once a tidy pass has deleted every component of
	// its REMOVE-tracked table, not tampering, and must not fail replay.
	if _, err := Open(fs, "tables/txn.log"); err != nil {
		t.Fatalf("expected replay to skip verification for an already-reclaimed table, got: %v", err)
	}
}
