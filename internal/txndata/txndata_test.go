package txndata

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/ondisk/tablexn/internal/logfile"
)

func TestBeginTrackCommit(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)

	td, err := Begin(fs, "/data", logfile.OpCompaction)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer td.Close()

	if err := td.TrackNew("t1.data", 100, 1); err != nil {
		t.Fatalf("TrackNew: %v", err)
	}
	if err := td.TrackObsolete("t0.data", 90, 1); err != nil {
		t.Fatalf("TrackObsolete: %v", err)
	}
	if err := td.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !td.HasCommit() {
		t.Fatal("expected HasCommit() to be true")
	}

	added, err := td.AddedFiles()
	if err != nil {
		t.Fatalf("AddedFiles: %v", err)
	}
	if len(added) != 1 || added[0].RelPath != "t1.data" {
		t.Fatalf("unexpected added files: %+v", added)
	}

	obsolete, err := td.ObsoleteFiles()
	if err != nil {
		t.Fatalf("ObsoleteFiles: %v", err)
	}
	if len(obsolete) != 1 || obsolete[0].RelPath != "t0.data" {
		t.Fatalf("unexpected obsolete files: %+v", obsolete)
	}
}

func TestListLogNamesIgnoresUnrelatedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)

	if _, err := Begin(fs, "/data", logfile.OpFlush); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	afero.WriteFile(fs, "/data/README.txt", []byte("not a log"), 0o644)
	afero.WriteFile(fs, "/data/t1.data", []byte("table data"), 0o644)

	names, err := ListLogNames(fs, "/data")
	if err != nil {
		t.Fatalf("ListLogNames: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("got %d log names, want 1: %v", len(names), names)
	}
	if _, ok := logfile.ParseName(names[0]); !ok {
		t.Fatalf("expected %q to parse as a log name", names[0])
	}
}

func TestResumeAndAbortLeftover(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)

	td, err := Begin(fs, "/data", logfile.OpCompaction)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := td.TrackNew("t1.data", 100, 1); err != nil {
		t.Fatalf("TrackNew: %v", err)
	}
	name := td.Name()
	if err := td.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resumed, err := Resume(fs, "/data", name)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer resumed.Close()

	if err := resumed.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !resumed.HasAbort() {
		t.Fatal("expected HasAbort() to be true")
	}
}
