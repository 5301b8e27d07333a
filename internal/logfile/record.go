package logfile

import (
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind is one of the four record kinds the log format defines.
type Kind string

const (
	KindAdd    Kind = "add"
	KindRemove Kind = "remove"
	KindCommit Kind = "commit"
	KindAbort  Kind = "abort"
)

// IsTerminator reports whether k is one of the two kinds that end a
// transaction; a log carries at most one terminator record.
func (k Kind) IsTerminator() bool {
	return k == KindCommit || k == KindAbort
}

func (k Kind) valid() bool {
	switch k {
	case KindAdd, KindRemove, KindCommit, KindAbort:
		return true
	default:
		return false
	}
}

var lowerCaser = cases.Lower(language.Und)

// normalizeKind implements the line grammar's "case-insensitive on <kind>"
// rule.
func normalizeKind(s string) Kind {
	return Kind(lowerCaser.String(s))
}

// Record is a single ADD/REMOVE/COMMIT/ABORT line. Equality for
// de-duplication purposes is defined solely by (Kind, RelPath);
// UpdateTimeMs and NumFiles are informational and carried along so
// LogFile.read can re-verify them against the filesystem.
type Record struct {
	Kind         Kind
	RelPath      string
	UpdateTimeMs int64
	NumFiles     int
}

// Key returns the (Kind, RelPath) pair that identifies this record for
// de-duplication.
func (r Record) Key() RecordKey {
	return RecordKey{Kind: r.Kind, RelPath: r.RelPath}
}

// RecordKey is the de-duplication identity of a Record.
type RecordKey struct {
	Kind    Kind
	RelPath string
}

// Prefix renders the record's byte prefix: everything up to but
// excluding the checksum bracket:
// "<kind>:[<relpath>,<update_time>,<num_files>]".
func (r Record) Prefix() string {
	return fmt.Sprintf("%s:[%s,%d,%d]", r.Kind, r.RelPath, r.UpdateTimeMs, r.NumFiles)
}

// lineRE matches one on-disk log line. The prefix (group 1) is captured
// verbatim so the checksum can be verified against the actual on-disk
// bytes rather than a re-rendering of the parsed fields.
var lineRE = regexp.MustCompile(`(?i)^((add|remove|commit|abort):\[([^,]*),(\d*),(\d*)\])\[(\d+)\]$`)

// parsedLine is one successfully-split line: prefix bytes, the record it
// encodes, and the checksum it claims.
type parsedLine struct {
	prefix   string
	record   Record
	checksum uint32
}

// parseLine splits a raw log line (without its trailing newline) into its
// record and claimed checksum. It does not validate the checksum, that
// is LogFile.read's job, since it requires the running CRC state.
func parseLine(line string) (parsedLine, error) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return parsedLine{}, fmt.Errorf("malformed log line: %q", line)
	}

	kind := normalizeKind(m[2])
	if !kind.valid() {
		return parsedLine{}, fmt.Errorf("unknown record kind in line: %q", line)
	}

	var updateTime int64
	if m[4] != "" {
		v, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			return parsedLine{}, fmt.Errorf("malformed update_time in line: %q", line)
		}
		updateTime = v
	}

	var numFiles int
	if m[5] != "" {
		v, err := strconv.Atoi(m[5])
		if err != nil {
			return parsedLine{}, fmt.Errorf("malformed num_files in line: %q", line)
		}
		numFiles = v
	}

	crc, err := strconv.ParseUint(m[6], 10, 32)
	if err != nil {
		return parsedLine{}, fmt.Errorf("malformed checksum in line: %q", line)
	}

	rec := Record{Kind: kind, RelPath: m[3], UpdateTimeMs: updateTime, NumFiles: numFiles}
	return parsedLine{prefix: m[1], record: rec, checksum: uint32(crc)}, nil
}
