package logfile

import (
	"errors"
	"fmt"
)

// CorruptLogError marks a log file as unrecoverable: a non-terminal
// record was unparseable, its checksum didn't match, or a REMOVE record's
// filesystem-state invariant failed outside the benign last-line-
// truncated case. This is fatal for that one log file; recovery logs it
// and continues with the others.
type CorruptLogError struct {
	Path   string
	Record string // textual description of the offending record, if any
	Err    error
}

func (e *CorruptLogError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("corrupt log %s (record %s): %v", e.Path, e.Record, e.Err)
	}
	return fmt.Sprintf("corrupt log %s: %v", e.Path, e.Err)
}

func (e *CorruptLogError) Unwrap() error { return e.Err }

// InvariantViolationError marks a programmer error: commit-after-commit,
// obsolete-a-never-added, untrack-after-commit, and similar misuse of the
// Transaction state machine. These fail loudly rather than being retried
// or suppressed.
type InvariantViolationError struct {
	Op  string
	Msg string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation during %s: %s", e.Op, e.Msg)
}

// MultiError merges multiple failures from a bulk operation (recovery
// across many logs, leftover removal across many files) into one error
// without losing any of them. It is compatible with errors.Is/As via
// Unwrap() []error, the standard library's multi-error convention.
type MultiError struct {
	Errs []error
}

func (m *MultiError) Error() string {
	if len(m.Errs) == 0 {
		return "no errors"
	}
	if len(m.Errs) == 1 {
		return m.Errs[0].Error()
	}
	return fmt.Sprintf("%d errors, first: %v", len(m.Errs), m.Errs[0])
}

func (m *MultiError) Unwrap() []error { return m.Errs }

// Add appends err to the chain if it is non-nil.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errs = append(m.Errs, err)
	}
}

// ErrOrNil returns m if it holds any errors, or nil otherwise, so callers
// can return the result of a bulk operation directly.
func (m *MultiError) ErrOrNil() error {
	if len(m.Errs) == 0 {
		return nil
	}
	return m
}

// Join is a small convenience wrapper over the standard library's
// errors.Join for call sites that only need a flat chain without the
// MultiError accessors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
