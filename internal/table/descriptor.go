// Package table provides the minimal table-descriptor concrete type the
// transaction log needs. The engine-side notion of a "table" (its
// compaction inputs/outputs, its reader cache entry) is out of scope for
// this repository; the log only ever needs two derived properties of a
// table: its base filename and its enclosing directory.
package table

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Suffixes lists the component files that make up one table on disk, in
// deletion order: data, index, bloom filter, statistics, summary.
var Suffixes = []string{".data", ".index", ".filter", ".stats", ".summary"}

// Descriptor identifies one table by its base filename and directory.
// Dir is always the log's own directory: the log only ever governs tables
// that live alongside it.
type Descriptor struct {
	Dir  string
	Base string
}

// New returns a Descriptor for the table with the given base filename in
// dir. base must not contain path separators.
func New(dir, base string) Descriptor {
	return Descriptor{Dir: dir, Base: base}
}

// RelPath is the path recorded in a Record: the base filename relative to
// Dir (no directory component, since Dir is implied by the owning log).
func (d Descriptor) RelPath() string {
	return d.Base
}

// Components returns the absolute paths of every component file that
// currently exists on disk for this table. A table missing some
// components (e.g. mid-write) simply reports fewer files; this is what
// lets num-files and max-mtime act as an approximate fingerprint of "did
// the files on disk change since this record was written".
func (d Descriptor) Components(fs afero.Fs) []string {
	var out []string
	for _, suf := range Suffixes {
		p := filepath.Join(d.Dir, d.Base+suf)
		if _, err := fs.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// FileCount returns the number of component files currently present.
func (d Descriptor) FileCount(fs afero.Fs) int {
	return len(d.Components(fs))
}

// MaxModTime returns the maximum mtime, in milliseconds since the epoch,
// across all present component files. Returns 0 if no component exists.
func (d Descriptor) MaxModTime(fs afero.Fs) int64 {
	var max int64
	for _, p := range d.Components(fs) {
		info, err := fs.Stat(p)
		if err != nil {
			continue
		}
		ms := info.ModTime().UnixMilli()
		if ms > max {
			max = ms
		}
	}
	return max
}

// DeleteComponentsOrdered deletes every present component file, ordered so
// that the data component (the principal, largest component, the one
// whose absence alone makes the table unreadable) is removed first, so a
// deletion interrupted by a crash still leaves the table recognizably
// gone rather than a complete-looking table with missing siblings. The
// remaining components follow in Suffixes order. No mtime-based ordering
// is applied, neither within one table's components nor by the callers
// in this repository across tables.
func (d Descriptor) DeleteComponentsOrdered(fs afero.Fs) error {
	dataPath := filepath.Join(d.Dir, d.Base+".data")
	if _, err := fs.Stat(dataPath); err == nil {
		if err := fs.Remove(dataPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	for _, suf := range Suffixes {
		if suf == ".data" {
			continue
		}
		p := filepath.Join(d.Dir, d.Base+suf)
		if err := fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
