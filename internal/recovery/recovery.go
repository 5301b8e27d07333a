// Package recovery implements startup crash recovery: scanning a
// directory for leftover transaction logs and table files, classifying
// each log by its terminal record (if any), and resolving every leftover
// so the directory is left in a state with no uncommitted, unaborted
// transaction and no orphaned table file.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ondisk/tablexn/internal/logfile"
	"github.com/ondisk/tablexn/internal/table"
	"github.com/ondisk/tablexn/internal/tidier"
	"github.com/ondisk/tablexn/internal/txndata"
)

// Disposition is how a leftover log was classified and resolved.
type Disposition string

const (
	// DispositionCommitted means the log carried a COMMIT terminator;
	// its REMOVE-tracked files were deleted (or re-queued for retry).
	DispositionCommitted Disposition = "committed"

	// DispositionAborted means the log carried an ABORT terminator; its
	// ADD-tracked files were deleted (or re-queued).
	DispositionAborted Disposition = "aborted"

	// DispositionRolledBack means the log had no terminator: recovery
	// appended ABORT on its behalf and deleted its ADD-tracked files. A
	// log that never reached a terminator is indistinguishable from one
	// that crashed before committing, so it is always rolled back.
	DispositionRolledBack Disposition = "rolled_back"
)

// LogResult is the outcome of resolving one leftover log file.
type LogResult struct {
	Name        string
	Disposition Disposition
	Err         error
}

// Result is the outcome of a full recovery pass over one directory.
type Result struct {
	Logs []LogResult
}

// Run scans dir for every log file, resolves each one's fate, and
// deletes the table files its resolution makes garbage. A failure
// resolving one log is recorded in that log's LogResult.Err and does not
// stop recovery from continuing with the others; the aggregate error
// returned is a *logfile.MultiError of every such failure, or nil if all
// logs resolved cleanly.
//
// Run does not delete a log file after resolving it: every log stays in
// dir, and a later Run reads it again. A log rolled back by an earlier
// Run then carries ABORT and resolves as aborted.
func Run(fs afero.Fs, dir string, ti *tidier.Tidier) (Result, error) {
	names, err := txndata.ListLogNames(fs, dir)
	if err != nil {
		return Result{}, err
	}

	var result Result
	var merr logfile.MultiError

	for _, name := range names {
		lr := resolveOne(fs, dir, name, ti)
		result.Logs = append(result.Logs, lr)
		merr.Add(lr.Err)
	}

	return result, merr.ErrOrNil()
}

func resolveOne(fs afero.Fs, dir, name string, ti *tidier.Tidier) LogResult {
	path := filepath.Join(dir, name)
	lf, err := logfile.Open(fs, path)
	if err != nil {
		return LogResult{Name: name, Err: fmt.Errorf("open %s: %w", name, err)}
	}

	switch {
	case lf.HasCommit():
		removes, err := lf.DeleteRecords()
		if err != nil {
			lf.Close()
			return LogResult{Name: name, Disposition: DispositionCommitted, Err: err}
		}
		lf.Close()
		deleteTracked(fs, dir, removes, ti)
		return LogResult{Name: name, Disposition: DispositionCommitted}

	case lf.HasAbort():
		adds, err := lf.TrackedFiles(logfile.KindAdd)
		if err != nil {
			lf.Close()
			return LogResult{Name: name, Disposition: DispositionAborted, Err: err}
		}
		lf.Close()
		deleteTracked(fs, dir, adds, ti)
		return LogResult{Name: name, Disposition: DispositionAborted}

	default:
		lf.Close()
		adds, err := rollBack(fs, dir, name)
		if err != nil {
			return LogResult{Name: name, Disposition: DispositionRolledBack, Err: err}
		}
		deleteTracked(fs, dir, adds, ti)
		return LogResult{Name: name, Disposition: DispositionRolledBack}
	}
}

// rollBack appends an ABORT record to a log with no terminator and
// returns the ADD-tracked files that are now garbage.
func rollBack(fs afero.Fs, dir, name string) ([]logfile.Record, error) {
	td, err := txndata.Resume(fs, dir, name)
	if err != nil {
		return nil, fmt.Errorf("resume %s for rollback: %w", name, err)
	}
	defer td.Close()

	adds, err := td.AddedFiles()
	if err != nil {
		return nil, err
	}
	if err := td.Abort(); err != nil {
		return nil, fmt.Errorf("abort leftover log %s: %w", name, err)
	}
	return adds, nil
}

func deleteTracked(fs afero.Fs, dir string, records []logfile.Record, ti *tidier.Tidier) {
	for _, r := range records {
		ti.Delete(table.New(dir, r.RelPath), false)
	}
}

// ListTemporaryFiles reports every file base name in dir that is
// temporary per the log protocol: tracked under ADD by a log that hasn't
// reached a terminator yet (the file might still be mid-write, or its
// transaction might roll back and discard it), or tracked under REMOVE by
// a log that has already committed (the file is superseded and only
// waiting on the tidier). A file named by an aborted log's REMOVE records
// is not temporary: abort means the old state stands untouched. It takes
// a snapshot of directory entries and re-lists if any named log vanished
// mid-scan (resolved concurrently by another process) rather than
// failing the whole scan outright.
func ListTemporaryFiles(fs afero.Fs, dir string) ([]string, error) {
	const maxAttempts = 3
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		entries, err := afero.ReadDir(fs, dir)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", dir, err)
		}

		temp, err := temporaryBaseNames(fs, dir, entries)
		if err != nil {
			lastErr = err
			continue // a log vanished between listing and reading it; re-list
		}

		var out []string
		for _, e := range entries {
			if e.IsDir() || logfile.IsLogName(e.Name()) {
				continue
			}
			if base, ok := componentBase(e.Name()); ok {
				if _, istemp := temp[base]; istemp {
					out = append(out, e.Name())
				}
			}
		}
		sort.Strings(out)
		return out, nil
	}
	return nil, fmt.Errorf("list temporary files in %s: %w", dir, lastErr)
}

// temporaryBaseNames unions the temporary set contributed by every log
// file in dir: an incomplete log contributes its ADD set, a committed log
// contributes its REMOVE set, an aborted log contributes nothing.
func temporaryBaseNames(fs afero.Fs, dir string, entries []os.FileInfo) (map[string]struct{}, error) {
	temp := make(map[string]struct{})
	for _, e := range entries {
		if !logfile.IsLogName(e.Name()) {
			continue
		}
		lf, err := logfile.Open(fs, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", e.Name(), err)
		}

		var records []logfile.Record
		switch {
		case lf.HasCommit():
			records, err = lf.DeleteRecords()
		case lf.HasAbort():
			// Aborted: the old state stands, nothing it names is temporary.
		default:
			records, err = lf.TrackedFiles(logfile.KindAdd)
		}
		lf.Close()
		if err != nil {
			return nil, err
		}

		for _, r := range records {
			temp[r.RelPath] = struct{}{}
		}
	}
	return temp, nil
}

// componentBase strips a table component suffix (".data", ".index", etc.)
// from name, reporting whether name matched one of table.Suffixes at all.
// A file with no recognized component suffix can never be a tracked
// table file and is never reported as temporary.
func componentBase(name string) (string, bool) {
	for _, suf := range table.Suffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf), true
		}
	}
	return "", false
}
