// Package registry persists the tidier's failed-deletion retry queue to
// SQLite so a restarted process picks up retrying where the last one left
// off, instead of forgetting about a table file a prior run could never
// unlink. It is optional: a process started with no TABLEXN_REGISTRY_PATH
// keeps the queue in memory only, the same as before this package existed.
package registry

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one row of the failed-deletion queue.
type Entry struct {
	Dir      string
	Base     string
	WasNew   bool
	Attempts int
	LastErr  string
	NextTry  time.Time
}

// Store is a SQLite-backed handle to the failed-deletion table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the registry schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open registry database %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply registry schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert records or updates one failed-deletion entry, keyed on (dir, base).
func (s *Store) Upsert(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO failed_deletions (dir, base, was_new, attempts, last_err, next_try)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dir, base) DO UPDATE SET
			was_new = excluded.was_new,
			attempts = excluded.attempts,
			last_err = excluded.last_err,
			next_try = excluded.next_try
	`, e.Dir, e.Base, e.WasNew, e.Attempts, e.LastErr, e.NextTry.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert failed deletion %s/%s: %w", e.Dir, e.Base, err)
	}
	return nil
}

// Remove drops one entry, once its deletion finally succeeds.
func (s *Store) Remove(dir, base string) error {
	_, err := s.db.Exec(`DELETE FROM failed_deletions WHERE dir = ? AND base = ?`, dir, base)
	if err != nil {
		return fmt.Errorf("remove failed deletion %s/%s: %w", dir, base, err)
	}
	return nil
}

// List returns every persisted failed-deletion entry, for a restarted
// process to re-enqueue into its in-memory tidier queue.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT dir, base, was_new, attempts, last_err, next_try FROM failed_deletions`)
	if err != nil {
		return nil, fmt.Errorf("list failed deletions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var nextTry string
		if err := rows.Scan(&e.Dir, &e.Base, &e.WasNew, &e.Attempts, &e.LastErr, &nextTry); err != nil {
			return nil, fmt.Errorf("scan failed deletion row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, nextTry)
		if err != nil {
			return nil, fmt.Errorf("parse next_try for %s/%s: %w", e.Dir, e.Base, err)
		}
		e.NextTry = parsed
		out = append(out, e)
	}
	return out, rows.Err()
}
