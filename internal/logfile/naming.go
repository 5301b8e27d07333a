package logfile

import (
	"fmt"
	"regexp"

	"github.com/ondisk/tablexn/internal/idgen"
)

// FormatVersion is the on-disk log format version embedded in every log
// file name, a decimal version number rather than a literal placeholder
// string, since that's what the name regex's character class needs it to
// be to ever match anything.
const FormatVersion = "1"

// OpType is the closed set of transaction kinds that can own a log file:
// a small closed set (compaction, flush, streaming flush) rather than an
// open string, so a typo'd op name fails at compile time.
type OpType string

const (
	OpCompaction OpType = "compaction"
	OpFlush      OpType = "flush"
	OpStreaming  OpType = "streamingflush"
)

// nameRE matches the on-disk log-file-name grammar, with an added
// capture group for the format version (see FormatVersion's doc comment).
var nameRE = regexp.MustCompile(`^([0-9]+)_txn_([a-z]+)_([0-9a-f-]+)\.log$`)

// Name builds the log file name for a transaction of the given op type, a
// fresh time-ordered UUID minted via internal/idgen.
func Name(op OpType) string {
	return fmt.Sprintf("%s_txn_%s_%s.log", FormatVersion, op, idgen.NewTxnUUID())
}

// ParsedName is the decomposition of a log file name recognized by
// nameRE.
type ParsedName struct {
	Version string
	Op      OpType
	UUID    string
}

// ParseName recognizes a log file name and reports whether it matched.
func ParseName(filename string) (ParsedName, bool) {
	m := nameRE.FindStringSubmatch(filename)
	if m == nil {
		return ParsedName{}, false
	}
	return ParsedName{Version: m[1], Op: OpType(m[2]), UUID: m[3]}, true
}

// IsLogName reports whether filename matches the log-file-name grammar,
// regardless of op type or version, used by directory scans that must
// recognize "some transaction log" without caring which kind.
func IsLogName(filename string) bool {
	return nameRE.MatchString(filename)
}
