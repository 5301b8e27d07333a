// Package logfile implements the on-disk transaction log: an append-only,
// checksummed sequence of ADD/REMOVE/COMMIT/ABORT records describing one
// atomic table-file replacement.
package logfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/ondisk/tablexn/internal/table"
)

// LogFile is one open transaction log. Content operations (create, open,
// read, write) go through afero.Fs so the package is exercisable against
// both a real filesystem and an in-memory one in tests; a LogFile never
// touches the containing directory itself; that fsync belongs to
// internal/txndata, which owns the directory file descriptor.
type LogFile struct {
	fs   afero.Fs
	path string
	file afero.File // open O_APPEND|O_WRONLY handle, nil once Close'd

	crc          *runningCRC
	terminalKind Kind // "" until a COMMIT or ABORT has been appended/replayed
	metrics      *Metrics
	seen         map[RecordKey]struct{} // every (kind, relpath) written or replayed so far
}

// Create makes a brand new, empty log file and opens it for appending.
// It fails if path already exists, since a fresh transaction must never
// reuse a name (the file name's UUID component exists to guarantee this).
func Create(fs afero.Fs, path string) (*LogFile, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log %s: %w", path, err)
	}
	return &LogFile{fs: fs, path: path, file: f, crc: newRunningCRC(), metrics: Global, seen: make(map[RecordKey]struct{})}, nil
}

// WithMetrics swaps in a private Metrics instance instead of Global,
// tests use this to assert on counts without cross-talk between cases.
func (lf *LogFile) WithMetrics(m *Metrics) *LogFile {
	lf.metrics = m
	return lf
}

// OpenForAppend replays an existing log file to recover its running
// checksum state and terminal status, then reopens it in append mode so
// further records can be written. Used by recovery when a leftover
// transaction needs additional bookkeeping appended to its own log (the
// common case is read-only, via Open, but abort() on a recovered
// transaction needs to append its own ABORT record).
func OpenForAppend(fs afero.Fs, path string) (*LogFile, error) {
	lf := &LogFile{fs: fs, path: path, metrics: Global}
	if _, err := lf.replay(); err != nil {
		return nil, err
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s for append: %w", path, err)
	}
	lf.file = f
	return lf, nil
}

// Open opens an existing log file for reading only; no append handle is
// held. Suitable for recovery's classification pass over every log file
// in the directory.
func Open(fs afero.Fs, path string) (*LogFile, error) {
	lf := &LogFile{fs: fs, path: path, metrics: Global}
	if _, err := lf.replay(); err != nil {
		return nil, err
	}
	return lf, nil
}

// Path returns the log file's path as given at construction.
func (lf *LogFile) Path() string { return lf.path }

func (lf *LogFile) metricsOrGlobal() *Metrics {
	if lf.metrics == nil {
		return Global
	}
	return lf.metrics
}

// replay reads every line of the log file, verifying the cumulative
// checksum record by record, and seeds lf.crc/lf.terminalKind from the
// result. A malformed or checksum-mismatched final line is treated as a
// benign partial write interrupted by a crash: replay stops there rather
// than failing, and the incomplete line is dropped.
// Any such mismatch on a non-final line is unrecoverable corruption.
//
// Once every line has parsed cleanly, replay additionally verifies each
// REMOVE record against the current filesystem state: its recorded
// update-time must match the table's current max mtime, and, if the log's
// last line was itself dropped as truncated, its recorded file count must
// also match the table's current component count. A table with zero
// components present is treated as already reclaimed by an earlier tidy
// pass and skipped entirely: nothing in this repository removes a log
// file after resolving it, so a committed log whose REMOVE-tracked
// tables are all deleted is the ordinary state a later replay meets, not
// tampering.
func (lf *LogFile) replay() ([]Record, error) {
	f, err := lf.fs.Open(lf.path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", lf.path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log %s: %w", lf.path, err)
	}

	crc := newRunningCRC()
	records := make([]Record, 0, len(lines))
	seen := make(map[RecordKey]struct{}, len(lines))
	var terminalKind Kind
	var truncated bool

	for i, line := range lines {
		last := i == len(lines)-1

		pl, err := parseLine(line)
		if err != nil {
			if last {
				lf.metricsOrGlobal().TruncatedLastLine.Add(1)
				truncated = true
				break
			}
			lf.metricsOrGlobal().CorruptTotal.Add(1)
			return nil, &CorruptLogError{Path: lf.path, Record: line, Err: err}
		}

		want := crc.update(pl.prefix)
		if want != pl.checksum {
			if last {
				lf.metricsOrGlobal().TruncatedLastLine.Add(1)
				truncated = true
				break
			}
			lf.metricsOrGlobal().ChecksumMismatch.Add(1)
			lf.metricsOrGlobal().CorruptTotal.Add(1)
			return nil, &CorruptLogError{
				Path:   lf.path,
				Record: line,
				Err:    fmt.Errorf("checksum mismatch: stored %d, computed %d", pl.checksum, want),
			}
		}

		if terminalKind != "" {
			lf.metricsOrGlobal().CorruptTotal.Add(1)
			return nil, &CorruptLogError{
				Path:   lf.path,
				Record: line,
				Err:    fmt.Errorf("record follows terminator %s", terminalKind),
			}
		}

		records = append(records, pl.record)
		seen[pl.record.Key()] = struct{}{}
		if pl.record.Kind.IsTerminator() {
			terminalKind = pl.record.Kind
		}
	}

	if err := lf.verifyRemoveRecords(records, truncated); err != nil {
		return nil, err
	}

	lf.crc = crc
	lf.terminalKind = terminalKind
	lf.seen = seen
	return records, nil
}

// verifyRemoveRecords checks every REMOVE record's recorded update-time
// (and, when the log's tail was truncated, its recorded file count)
// against the table's current on-disk state, catching a REMOVE record
// whose target was tampered with after the fact rather than legitimately
// reclaimed.
func (lf *LogFile) verifyRemoveRecords(records []Record, truncated bool) error {
	dir := filepath.Dir(lf.path)
	for _, r := range records {
		if r.Kind != KindRemove {
			continue
		}
		desc := table.New(dir, r.RelPath)
		if desc.FileCount(lf.fs) == 0 {
			continue // already reclaimed by an earlier tidy pass
		}
		if got := desc.MaxModTime(lf.fs); got != r.UpdateTimeMs {
			lf.metricsOrGlobal().CorruptTotal.Add(1)
			return &CorruptLogError{
				Path:   lf.path,
				Record: r.RelPath,
				Err:    fmt.Errorf("remove record update_time %d does not match on-disk mtime %d", r.UpdateTimeMs, got),
			}
		}
		if truncated {
			if got := desc.FileCount(lf.fs); got != r.NumFiles {
				lf.metricsOrGlobal().CorruptTotal.Add(1)
				return &CorruptLogError{
					Path:   lf.path,
					Record: r.RelPath,
					Err:    fmt.Errorf("remove record num_files %d does not match on-disk count %d", r.NumFiles, got),
				}
			}
		}
	}
	return nil
}

// Read returns every fully-written, checksum-verified record in the log,
// in append order. It re-reads the file from scratch rather than relying
// on any cached state, so it reflects concurrent appends from this same
// process's append handle.
func (lf *LogFile) Read() ([]Record, error) {
	return lf.replay()
}

// HasCommit reports whether the log's terminal record (if any) is COMMIT.
func (lf *LogFile) HasCommit() bool { return lf.terminalKind == KindCommit }

// HasAbort reports whether the log's terminal record (if any) is ABORT.
func (lf *LogFile) HasAbort() bool { return lf.terminalKind == KindAbort }

// Terminated reports whether the log carries either terminator.
func (lf *LogFile) Terminated() bool { return lf.terminalKind != "" }

// append writes one record line and fsyncs the file before returning, so
// the record is durable before the caller acts on it having happened. For
// KindAdd/KindRemove it first checks the (kind, relpath) pair against
// every record already written or replayed in this log; a repeat is
// rejected outright, returning (false, nil) with the log left unchanged,
// rather than writing a redundant line. Terminators are never subject to
// this check; they are instead guarded by the stricter single-terminator
// invariant above.
func (lf *LogFile) append(kind Kind, relPath string, updateTimeMs int64, numFiles int) (bool, error) {
	if lf.file == nil {
		return false, &InvariantViolationError{Op: "append", Msg: "log file not open for writing"}
	}
	if lf.terminalKind != "" {
		return false, &InvariantViolationError{Op: "append", Msg: fmt.Sprintf("log already terminated with %s", lf.terminalKind)}
	}

	rec := Record{Kind: kind, RelPath: relPath, UpdateTimeMs: updateTimeMs, NumFiles: numFiles}
	if !kind.IsTerminator() {
		key := rec.Key()
		if _, dup := lf.seen[key]; dup {
			return false, nil
		}
	}

	prefix := rec.Prefix()
	sum := lf.crc.update(prefix)
	line := fmt.Sprintf("%s[%d]\n", prefix, sum)

	if _, err := lf.file.WriteString(line); err != nil {
		return false, fmt.Errorf("write record to %s: %w", lf.path, err)
	}
	if err := lf.file.Sync(); err != nil {
		return false, fmt.Errorf("fsync %s: %w", lf.path, err)
	}

	lf.metricsOrGlobal().AppendTotal.Add(1)
	if !kind.IsTerminator() {
		if lf.seen == nil {
			lf.seen = make(map[RecordKey]struct{})
		}
		lf.seen[rec.Key()] = struct{}{}
	}
	if kind.IsTerminator() {
		lf.terminalKind = kind
		switch kind {
		case KindCommit:
			lf.metricsOrGlobal().CommitTotal.Add(1)
		case KindAbort:
			lf.metricsOrGlobal().AbortTotal.Add(1)
		}
	}
	return true, nil
}

// AppendAdd records that relPath is a newly created table file owned by
// this transaction. Returns false if relPath is already tracked as ADD in
// this log, per the de-duplication contract on (kind, relpath).
func (lf *LogFile) AppendAdd(relPath string, updateTimeMs int64, numFiles int) (bool, error) {
	return lf.append(KindAdd, relPath, updateTimeMs, numFiles)
}

// AppendRemove records that relPath is an obsolete table file to be
// deleted once the transaction commits. Returns false if relPath is
// already tracked as REMOVE in this log.
func (lf *LogFile) AppendRemove(relPath string, updateTimeMs int64, numFiles int) (bool, error) {
	return lf.append(KindRemove, relPath, updateTimeMs, numFiles)
}

// Commit appends the COMMIT terminator, after which ADD-tracked files are
// the surviving state and REMOVE-tracked files are garbage.
func (lf *LogFile) Commit() error {
	_, err := lf.append(KindCommit, "", 0, 0)
	return err
}

// Abort appends the ABORT terminator, after which ADD-tracked files are
// garbage and REMOVE-tracked files are untouched.
func (lf *LogFile) Abort() error {
	_, err := lf.append(KindAbort, "", 0, 0)
	return err
}

// TrackedFiles returns every record of the given kind, ordered by each
// RelPath's first occurrence with duplicates collapsed to their last one;
// de-duplication is keyed on (Kind, RelPath).
func (lf *LogFile) TrackedFiles(kind Kind) ([]Record, error) {
	records, err := lf.Read()
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(records))
	byPath := make(map[string]Record, len(records))
	for _, r := range records {
		if r.Kind != kind {
			continue
		}
		if _, seen := byPath[r.RelPath]; !seen {
			order = append(order, r.RelPath)
		}
		byPath[r.RelPath] = r
	}

	out := make([]Record, 0, len(order))
	for _, p := range order {
		out = append(out, byPath[p])
	}
	return out, nil
}

// DeleteRecords returns the REMOVE-tracked files: the table files that
// become garbage once the transaction commits (an abort leaves them in
// place). Recovery calls this on committed logs to find what to unlink.
func (lf *LogFile) DeleteRecords() ([]Record, error) {
	return lf.TrackedFiles(KindRemove)
}

// Close releases the append handle, if one is held. It does not delete
// or finalize the log; callers decide the log's fate independently.
func (lf *LogFile) Close() error {
	if lf.file == nil {
		return nil
	}
	err := lf.file.Close()
	lf.file = nil
	return err
}
