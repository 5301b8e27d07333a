// Package transaction is the public façade over one atomic table-file
// replacement: track the new files a compaction or flush produced, mark
// the old files it makes obsolete, and commit or abort the whole set in
// one durable decision. internal/txndata owns the on-disk log and
// directory fsync; internal/tidier owns the actual unlinking, including
// retrying deletions that fail the first time.
package transaction

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/ondisk/tablexn/internal/logfile"
	"github.com/ondisk/tablexn/internal/table"
	"github.com/ondisk/tablexn/internal/tidier"
	"github.com/ondisk/tablexn/internal/txndata"
)

// Transaction is one open ADD/REMOVE/COMMIT-or-ABORT sequence.
type Transaction struct {
	td  *txndata.TransactionData
	ti  *tidier.Tidier
	dir string

	mu           sync.Mutex
	newPaths     map[string]struct{}    // trackNew'd, still live (not untracked, not yet committed/aborted)
	obsoletions  []*Obsoletion
	directDelete []string        // untrackNew'd paths: unconditionally garbage once concluded
	readyForTidy []pendingDelete // Obsoletion handles that hit zero refs before commit landed
	committed    bool
	concluded    bool
}

// pendingDelete is an obsoleted table file waiting on commit to be handed
// to the Tidier, carrying the wasNew flag through since the Obsoletion
// handle itself isn't kept around once its last reference is released.
type pendingDelete struct {
	relPath string
	wasNew  bool
}

// Begin starts a new transaction, creating its log file in dir. ti is
// acquired for the transaction's lifetime and released by Close.
func Begin(fs afero.Fs, dir string, op logfile.OpType, ti *tidier.Tidier) (*Transaction, error) {
	td, err := txndata.Begin(fs, dir, op)
	if err != nil {
		return nil, err
	}
	ti.Acquire()
	return &Transaction{
		td:       td,
		ti:       ti,
		dir:      dir,
		newPaths: make(map[string]struct{}),
	}, nil
}

func (t *Transaction) checkOpen(op string) error {
	if t.concluded {
		return &logfile.InvariantViolationError{Op: op, Msg: "transaction already committed or aborted"}
	}
	return nil
}

// TrackNew records that relPath is a newly created table file this
// transaction owns. If the transaction aborts, or if UntrackNew is later
// called for the same path, relPath is garbage; if the transaction
// commits without an intervening UntrackNew, relPath is live output.
// Fails if relPath is already tracked as ADD within this transaction.
func (t *Transaction) TrackNew(relPath string, updateTimeMs int64, numFiles int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen("trackNew"); err != nil {
		return err
	}
	if _, ok := t.newPaths[relPath]; ok {
		return &logfile.InvariantViolationError{Op: "trackNew", Msg: fmt.Sprintf("%s already tracked as new", relPath)}
	}
	if err := t.td.TrackNew(relPath, updateTimeMs, numFiles); err != nil {
		return err
	}
	t.newPaths[relPath] = struct{}{}
	return nil
}

// UntrackNew reverses a TrackNew for a file the caller decided it no
// longer needs before the transaction concluded. relPath becomes garbage
// unconditionally (deleted on both commit and abort), rather than
// contingent on the transaction's eventual outcome.
func (t *Transaction) UntrackNew(relPath string, updateTimeMs int64, numFiles int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen("untrackNew"); err != nil {
		return err
	}
	if _, ok := t.newPaths[relPath]; !ok {
		return &logfile.InvariantViolationError{Op: "untrackNew", Msg: fmt.Sprintf("%s was never tracked as new", relPath)}
	}
	if err := t.td.TrackObsolete(relPath, updateTimeMs, numFiles); err != nil {
		return err
	}
	delete(t.newPaths, relPath)
	t.directDelete = append(t.directDelete, relPath)
	return nil
}

// Obsolete records that relPath is superseded by this transaction's new
// output and returns a handle the caller must Release once nothing else
// needs the old file (an in-flight reader, say). The file is only ever
// physically removed after both this transaction commits and every
// reference on the returned handle is released.
//
// If relPath is currently tracked as ADD within this same transaction
// (it was created and is now being discarded before ever being
// committed), no REMOVE record is written at all: the returned handle is
// flagged wasNew so the Tidier skips the disk-usage accounting it would
// otherwise perform for a table that was genuinely live before this
// transaction.
func (t *Transaction) Obsolete(relPath string, updateTimeMs int64, numFiles int) (*Obsoletion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen("obsolete"); err != nil {
		return nil, err
	}

	if _, wasNew := t.newPaths[relPath]; wasNew {
		delete(t.newPaths, relPath)
		o := newObsoletion(relPath, true, t.onObsoletionReleased)
		t.obsoletions = append(t.obsoletions, o)
		return o, nil
	}

	if err := t.td.TrackObsolete(relPath, updateTimeMs, numFiles); err != nil {
		return nil, err
	}
	o := newObsoletion(relPath, false, t.onObsoletionReleased)
	t.obsoletions = append(t.obsoletions, o)
	return o, nil
}

// onObsoletionReleased is the Obsoletion zero-reference callback. Before
// commit it just remembers the path; Commit sweeps every path remembered
// this way once the commit itself is durable. After commit it tidies the
// path up immediately, since a reference can outlive the commit call.
func (t *Transaction) onObsoletionReleased(o *Obsoletion) {
	t.mu.Lock()
	committed := t.committed
	if !committed {
		t.readyForTidy = append(t.readyForTidy, pendingDelete{relPath: o.RelPath(), wasNew: o.WasNew()})
	}
	t.mu.Unlock()

	if committed {
		t.ti.Delete(table.New(t.dir, o.RelPath()), o.WasNew())
	}
}

// Commit appends the COMMIT terminator and tidies up every obsolete
// table file whose Obsoletion handle has already been fully released, or
// that was marked garbage unconditionally via UntrackNew. Obsoletion
// handles still outstanding are tidied as each one's last reference is
// released.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if err := t.checkOpen("commit"); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := t.td.Commit(); err != nil {
		return err
	}

	t.mu.Lock()
	t.committed = true
	t.concluded = true
	ready := t.readyForTidy
	t.readyForTidy = nil
	direct := t.directDelete
	t.directDelete = nil
	t.mu.Unlock()

	for _, p := range ready {
		t.ti.Delete(table.New(t.dir, p.relPath), p.wasNew)
	}
	for _, p := range direct {
		t.ti.Delete(table.New(t.dir, p), false)
	}
	return nil
}

// Abort appends the ABORT terminator and tidies up every file still
// tracked as new (its TrackNew'd output, since none of it survives) and
// every file it unconditionally marked garbage via UntrackNew. Files
// marked Obsolete are left untouched: abort means the old state stands.
// That includes a TrackNew'd file later passed to Obsolete: Abort does
// not delete it, and it stays on disk until a recovery pass resolves the
// aborted log, whose ADD record for it remains.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	if err := t.checkOpen("abort"); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := t.td.Abort(); err != nil {
		return err
	}

	t.mu.Lock()
	t.concluded = true
	newPaths := t.newPaths
	t.newPaths = nil
	direct := t.directDelete
	t.directDelete = nil
	t.mu.Unlock()

	for p := range newPaths {
		t.ti.Delete(table.New(t.dir, p), false)
	}
	for _, p := range direct {
		t.ti.Delete(table.New(t.dir, p), false)
	}
	return nil
}

// Close releases the transaction's log handle and its reference on the
// shared Tidier. It does not implicitly commit or abort; callers must
// conclude the transaction first.
func (t *Transaction) Close() error {
	err := t.td.Close()
	t.ti.Release()
	return err
}
