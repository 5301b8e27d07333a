// Package diagnostics mints per-invocation correlation IDs for tagging
// the structured log lines of one recovery or tidier run, so an operator
// grepping stderr could isolate one run's lines from another's. No
// recovery or tidier code in this repository calls NewRunID; their log
// lines carry no correlation ID.
// This is independent of the on-disk <uuid> minted by internal/idgen for
// log file names: a single recovery run touches many log files, each
// with its own filename UUID, and needs one correlation ID that spans all
// of them.
package diagnostics

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

var entropy = ulid.Monotonic(rand.Reader, 0)

// NewRunID returns a fresh, lexically time-sortable correlation ID.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
