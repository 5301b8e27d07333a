// Package cli assembles the txnlogctl command tree: an operator-facing
// tool for inspecting a table directory's transaction logs, running
// startup recovery out of band, and managing the tidier's deletion
// retry queue.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/ondisk/tablexn/internal/archive"
	"github.com/ondisk/tablexn/internal/config"
	"github.com/ondisk/tablexn/internal/registry"
	"github.com/ondisk/tablexn/internal/tidier"
)

// env bundles the dependencies every subcommand needs, built once from
// config.Load() in each command's RunE.
type env struct {
	cfg   *config.AppConfig
	fs    afero.Fs
	store *registry.Store // nil if TABLEXN_REGISTRY_PATH is unset
	ti    *tidier.Tidier
}

// storeAdapter satisfies tidier.Persister over a *registry.Store,
// translating between the two packages' independently-defined entry
// shapes so neither package needs to import the other.
type storeAdapter struct{ s *registry.Store }

func (a storeAdapter) Upsert(e tidier.SeedEntry) error {
	return a.s.Upsert(registry.Entry{
		Dir: e.Dir, Base: e.Base, WasNew: e.WasNew, Attempts: e.Attempts, LastErr: e.LastErr, NextTry: e.NextTry,
	})
}

func (a storeAdapter) Remove(dir, base string) error {
	return a.s.Remove(dir, base)
}

// newEnv loads configuration and wires a Tidier with whatever optional
// persistence and archival the configuration enables. Callers must call
// env.close() when done.
func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	fs := afero.NewOsFs()
	e := &env{cfg: cfg, fs: fs}

	ti := tidier.New(fs).WithRetryTuning(cfg.TidierMaxAttempts(), cfg.TidierBaseDelay())

	if path := cfg.RegistryPath(); path != "" {
		store, err := registry.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open retry-queue registry: %w", err)
		}
		e.store = store
		ti.WithPersister(storeAdapter{s: store})

		entries, err := store.List()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load persisted retry queue: %w", err)
		}
		seed := make([]tidier.SeedEntry, len(entries))
		for i, en := range entries {
			seed[i] = tidier.SeedEntry{Dir: en.Dir, Base: en.Base, WasNew: en.WasNew, Attempts: en.Attempts, LastErr: en.LastErr, NextTry: en.NextTry}
		}
		ti.Seed(seed)
	}

	if bucket := cfg.ArchiveBucket(); bucket != "" {
		arch, err := archive.New(context.Background(), bucket, cfg.ArchivePrefix())
		if err != nil {
			if e.store != nil {
				e.store.Close()
			}
			return nil, fmt.Errorf("construct archiver for bucket %s: %w", bucket, err)
		}
		ti.WithArchiver(arch)
	}

	ti.Acquire()
	e.ti = ti
	return e, nil
}

func (e *env) close() {
	e.ti.Release()
	if e.store != nil {
		e.store.Close()
	}
}
