// Package tidier deletes the table-file components a committed or
// aborted transaction made garbage, retrying on failure so a file held
// open by some other part of the process (a lingering reader, a platform
// that disallows unlinking open files) eventually gets cleaned up without
// blocking the transaction that made it garbage.
package tidier

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ondisk/tablexn/internal/fsprim"
	"github.com/ondisk/tablexn/internal/table"
)

// Archiver uploads a table component's content somewhere durable before
// the tidier unlinks it. A Tidier with no Archiver configured just skips
// this step entirely; see internal/archive for the S3-backed implementation.
type Archiver interface {
	ArchiveComponent(ctx context.Context, absPath, baseName, suffix string) error
}

// Default retry tuning; WithRetryTuning overrides the attempt count and
// base delay, while DefaultMaxDelay always caps the backoff.
const (
	DefaultMaxAttempts = 8
	DefaultBaseDelay   = 50 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

type failedDeletion struct {
	desc     table.Descriptor
	wasNew   bool
	attempts int
	lastErr  error
	nextTry  time.Time
}

// Tidier is a reference-counted deletion worker: its background executor
// goroutine only runs while at least one caller holds a reference via
// Acquire, and is joined cleanly once the last Release drops the count to
// zero. Transactions acquire a reference for their lifetime so the
// executor is never running with nobody left to hand it work.
type Tidier struct {
	fs        afero.Fs
	logger    fsprim.Logger
	metrics   *Metrics
	archiver  Archiver
	persister Persister

	maxAttempts int
	baseDelay   time.Duration

	mu      sync.Mutex
	refs    int
	running bool
	failed  []failedDeletion

	wake  chan struct{}
	drain chan chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New returns a Tidier that deletes table-file components through fs.
func New(fs afero.Fs) *Tidier {
	return &Tidier{
		fs:          fs,
		logger:      fsprim.GetLogger(),
		metrics:     &Metrics{},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
	}
}

// WithRetryTuning overrides the default max-attempts/base-delay backoff
// tuning, e.g. from config.TidierMaxAttempts/TidierBaseDelay. Must be
// called before Acquire starts the executor.
func (t *Tidier) WithRetryTuning(maxAttempts int, baseDelay time.Duration) *Tidier {
	t.maxAttempts = maxAttempts
	t.baseDelay = baseDelay
	return t
}

// Seed pre-populates the retry queue from persisted entries, e.g. a
// registry.Store's rows from a prior process's unfinished deletions.
// Must be called before Acquire starts the executor.
func (t *Tidier) Seed(entries []SeedEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		t.failed = append(t.failed, failedDeletion{
			desc:     table.New(e.Dir, e.Base),
			wasNew:   e.WasNew,
			attempts: e.Attempts,
			lastErr:  errors.New(e.LastErr),
			nextTry:  e.NextTry,
		})
	}
}

// SeedEntry is the shape Seed accepts, matching registry.Entry's fields
// without internal/tidier needing to import internal/registry. A seeded
// entry whose WasNew wasn't recorded by the caller defaults to false: the
// worst case is one extra disk-usage decrement on a table that never
// needed one, itself an already best-effort metric.
type SeedEntry struct {
	Dir      string
	Base     string
	WasNew   bool
	Attempts int
	LastErr  string
	NextTry  time.Time
}

// Persister mirrors the subset of registry.Store's API the tidier needs
// to keep its on-disk retry queue in sync with the in-memory one, again
// without internal/tidier importing internal/registry directly.
type Persister interface {
	Upsert(e SeedEntry) error
	Remove(dir, base string) error
}

// WithPersister attaches a Persister so every queued/retried/resolved
// deletion is mirrored to durable storage, surviving a process restart.
func (t *Tidier) WithPersister(p Persister) *Tidier {
	t.persister = p
	return t
}

// WithArchiver attaches an Archiver that every future Delete call uploads
// a table's components through before unlinking them. Archival only ever
// runs against a real on-disk filesystem (an *afero.OsFs): against an
// in-memory test filesystem there is no real file for it to read, so it
// is silently skipped, the same accommodation txndata makes for directory
// fsync under afero.NewMemMapFs.
func (t *Tidier) WithArchiver(a Archiver) *Tidier {
	t.archiver = a
	return t
}

// Acquire takes a strong reference, starting the deletion executor if it
// isn't already running.
func (t *Tidier) Acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs++
	if t.running {
		return
	}
	t.running = true
	t.wake = make(chan struct{}, 1)
	t.drain = make(chan chan struct{})
	t.quit = make(chan struct{})
	t.wg.Add(1)
	go t.runExecutor(t.wake, t.drain, t.quit)
}

// Release drops a strong reference. When the count reaches zero the
// executor is stopped and joined before Release returns.
func (t *Tidier) Release() {
	t.mu.Lock()
	t.refs--
	stop := t.refs <= 0 && t.running
	var quit chan struct{}
	if stop {
		t.running = false
		quit = t.quit
	}
	t.mu.Unlock()

	if stop {
		close(quit)
		t.wg.Wait()
	}
}

// Delete attempts to remove every component file of desc immediately. On
// failure it enqueues desc onto the retry queue and wakes the executor;
// the caller is never blocked waiting for a retry to succeed. wasNew
// marks a table that was created and obsoleted within the same
// transaction, never committed as live output: its bytes were never
// counted against the engine's disk-usage total, so its reclaim must not
// decrement that total either.
func (t *Tidier) Delete(desc table.Descriptor, wasNew bool) {
	t.archiveComponents(desc)
	if err := desc.DeleteComponentsOrdered(t.fs); err != nil {
		t.enqueueFailed(desc, wasNew, err)
		return
	}
	t.recordDiskUsage(wasNew)
	t.metrics.DeleteSuccess.Add(1)
}

// recordDiskUsage updates the disk-usage-tracker adaptation counters for
// one completed deletion. See Metrics.DiskUsageDecremented/DiskUsageSkipped.
func (t *Tidier) recordDiskUsage(wasNew bool) {
	if wasNew {
		t.metrics.DiskUsageSkipped.Add(1)
		return
	}
	t.metrics.DiskUsageDecremented.Add(1)
}

// archiveComponents best-effort uploads every present component of desc
// through the configured Archiver before it is deleted. A failed upload
// is logged and never blocks the deletion that follows: a missing cold
// storage copy is a strictly smaller problem than a table file that can
// never be reclaimed.
func (t *Tidier) archiveComponents(desc table.Descriptor) {
	if t.archiver == nil {
		return
	}
	if _, ok := t.fs.(*afero.OsFs); !ok {
		return
	}
	for _, p := range desc.Components(t.fs) {
		suf := filepath.Ext(p)
		if err := t.archiver.ArchiveComponent(context.Background(), p, desc.RelPath(), suf); err != nil {
			t.logger.Warn("archive upload failed, proceeding with deletion path=%s err=%v", p, err)
		}
	}
}

// persistUpsert mirrors a queued/still-failing entry to durable storage.
// A persistence write failure is logged and otherwise ignored: the
// in-memory queue remains authoritative for this process's lifetime
// regardless of whether the mirror succeeded.
func (t *Tidier) persistUpsert(desc table.Descriptor, wasNew bool, attempts int, err error, nextTry time.Time) {
	if t.persister == nil {
		return
	}
	entry := SeedEntry{Dir: desc.Dir, Base: desc.Base, WasNew: wasNew, Attempts: attempts, LastErr: err.Error(), NextTry: nextTry}
	if perr := t.persister.Upsert(entry); perr != nil {
		t.logger.Warn("persist failed-deletion entry path=%s err=%v", desc.RelPath(), perr)
	}
}

func (t *Tidier) persistRemove(desc table.Descriptor) {
	if t.persister == nil {
		return
	}
	if perr := t.persister.Remove(desc.Dir, desc.Base); perr != nil {
		t.logger.Warn("remove persisted failed-deletion entry path=%s err=%v", desc.RelPath(), perr)
	}
}

func (t *Tidier) enqueueFailed(desc table.Descriptor, wasNew bool, err error) {
	t.metrics.DeleteFailed.Add(1)
	t.logger.Warn("delete failed, queued for retry path=%s err=%v", desc.RelPath(), err)

	nextTry := time.Now().Add(t.baseDelay)
	t.persistUpsert(desc, wasNew, 0, err, nextTry)

	t.mu.Lock()
	t.failed = append(t.failed, failedDeletion{
		desc:    desc,
		wasNew:  wasNew,
		lastErr: err,
		nextTry: nextTry,
	})
	running := t.running
	wake := t.wake
	t.mu.Unlock()

	if running {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// RescheduleFailedDeletions wakes the executor to retry every queued
// deletion immediately, ignoring each entry's backoff schedule. Used by
// the operator-triggered "gc reschedule" command.
func (t *Tidier) RescheduleFailedDeletions() {
	t.mu.Lock()
	for i := range t.failed {
		t.failed[i].nextTry = time.Time{}
	}
	running := t.running
	wake := t.wake
	t.mu.Unlock()

	if running {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// WaitForDeletions asks the executor for one forced retry pass over every
// queued deletion and blocks until that pass finishes or ctx is done.
// Entries that fail again in that pass stay queued, so the queue is not
// necessarily empty on return. If the queue is already empty, or the
// executor is not running, it returns immediately without touching the
// executor goroutine at all.
func (t *Tidier) WaitForDeletions(ctx context.Context) error {
	t.mu.Lock()
	empty := len(t.failed) == 0
	running := t.running
	drain := t.drain
	t.mu.Unlock()

	if empty || !running {
		return nil
	}

	done := make(chan struct{})
	select {
	case drain <- done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PurgeFailed drops every queued deletion without retrying it again,
// returning how many were discarded. Used by an operator who has
// confirmed the underlying files are gone or otherwise unreachable and
// wants the queue to stop growing log noise.
func (t *Tidier) PurgeFailed() int {
	t.mu.Lock()
	purged := t.failed
	t.failed = nil
	t.mu.Unlock()

	for _, f := range purged {
		t.persistRemove(f.desc)
	}
	t.metrics.Purged.Add(int64(len(purged)))
	return len(purged)
}

// Snapshot returns the tidier's current counters.
func (t *Tidier) Snapshot() Snapshot {
	t.mu.Lock()
	depth := len(t.failed)
	t.mu.Unlock()
	return Snapshot{
		DeleteSuccess:        t.metrics.DeleteSuccess.Load(),
		DeleteFailed:         t.metrics.DeleteFailed.Load(),
		DeleteRetried:        t.metrics.DeleteRetried.Load(),
		Purged:               t.metrics.Purged.Load(),
		DiskUsageDecremented: t.metrics.DiskUsageDecremented.Load(),
		DiskUsageSkipped:     t.metrics.DiskUsageSkipped.Load(),
		QueueDepth:           depth,
	}
}

// runExecutor is the dedicated deletion-retry goroutine. It never polls
// on a fixed ticker; it only wakes on a new failure, an explicit
// reschedule request, or a drain request, and otherwise sleeps until the
// earliest queued entry's backoff expires.
func (t *Tidier) runExecutor(wake chan struct{}, drain chan chan struct{}, quit chan struct{}) {
	defer t.wg.Done()

	for {
		timer := time.NewTimer(t.nextWake())
		select {
		case <-wake:
			timer.Stop()
			t.retryDue(false)
		case done := <-drain:
			timer.Stop()
			t.retryDue(true)
			close(done)
		case <-timer.C:
			t.retryDue(false)
		case <-quit:
			timer.Stop()
			return
		}
	}
}

// nextWake returns how long the executor should sleep before its next
// unattended retry pass, bounded to DefaultMaxDelay so it never sleeps
// indefinitely on an empty queue.
func (t *Tidier) nextWake() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.failed) == 0 {
		return DefaultMaxDelay
	}
	soonest := t.failed[0].nextTry
	for _, f := range t.failed[1:] {
		if f.nextTry.Before(soonest) {
			soonest = f.nextTry
		}
	}
	d := time.Until(soonest)
	if d < 0 {
		return 0
	}
	if d > DefaultMaxDelay {
		return DefaultMaxDelay
	}
	return d
}

// retryDue attempts every queued deletion whose backoff has elapsed (or
// every queued deletion at all, if force is set, for reschedule/drain
// requests), re-queuing the ones that still fail with their backoff
// doubled, up to the configured max attempts (DefaultMaxAttempts unless
// WithRetryTuning changed it) before giving up silently (it stays
// logged, but stops retrying to avoid growing the queue forever).
func (t *Tidier) retryDue(force bool) {
	t.mu.Lock()
	pending := t.failed
	t.failed = nil
	t.mu.Unlock()

	now := time.Now()
	var stillFailed []failedDeletion
	for _, f := range pending {
		if !force && f.nextTry.After(now) {
			stillFailed = append(stillFailed, f)
			continue
		}

		t.metrics.DeleteRetried.Add(1)
		t.archiveComponents(f.desc)
		if err := f.desc.DeleteComponentsOrdered(t.fs); err != nil {
			f.attempts++
			f.lastErr = err
			if f.attempts >= t.maxAttempts {
				t.logger.Error("giving up on delete after %d attempts path=%s err=%v", f.attempts, f.desc.RelPath(), err)
				t.persistRemove(f.desc)
				continue
			}
			backoff := t.baseDelay << uint(f.attempts)
			if backoff > DefaultMaxDelay {
				backoff = DefaultMaxDelay
			}
			f.nextTry = now.Add(backoff)
			t.persistUpsert(f.desc, f.wasNew, f.attempts, err, f.nextTry)
			stillFailed = append(stillFailed, f)
			continue
		}
		t.recordDiskUsage(f.wasNew)
		t.metrics.DeleteSuccess.Add(1)
		t.persistRemove(f.desc)
	}

	t.mu.Lock()
	t.failed = append(stillFailed, t.failed...)
	t.mu.Unlock()
}
