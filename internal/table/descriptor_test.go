package table

import (
	"testing"

	"github.com/spf13/afero"
)

func TestComponentsAndDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	afero.WriteFile(fs, "/data/t1.data", []byte("data"), 0o644)
	afero.WriteFile(fs, "/data/t1.index", []byte("index"), 0o644)

	d := New("/data", "t1")
	if got := d.FileCount(fs); got != 2 {
		t.Fatalf("FileCount() = %d, want 2", got)
	}

	if err := d.DeleteComponentsOrdered(fs); err != nil {
		t.Fatalf("DeleteComponentsOrdered: %v", err)
	}
	if got := d.FileCount(fs); got != 0 {
		t.Fatalf("FileCount() after delete = %d, want 0", got)
	}
}

func TestDeleteComponentsOrderedIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/data", 0o755)
	d := New("/data", "missing")

	if err := d.DeleteComponentsOrdered(fs); err != nil {
		t.Fatalf("DeleteComponentsOrdered on missing table: %v", err)
	}
}
