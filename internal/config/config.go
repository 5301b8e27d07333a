// Package config provides read-only access to this engine's runtime
// configuration: where the transaction log directory lives, how strict
// the directory-fsync and archival behavior should be, and the tidier's
// retry tuning. Values come from environment variables by default, with
// an optional YAML override file for settings better kept out of the
// process environment (e.g. a non-default archive bucket per host).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the narrow read-only view the rest of this repository
// depends on, so callers don't need to know whether a value came from
// the environment, a YAML file, or a built-in default.
type Config interface {
	// TableDir is the directory the transaction log and table files
	// live in (TABLEXN_TABLE_DIR).
	TableDir() string

	// StrictFsync reports the TABLEXN_STRICT_FSYNC setting. No package in
	// this repository consults it: a directory-fsync failure is always
	// returned to the caller as an error.
	StrictFsync() bool

	// DisableRecovery reports the TABLEXN_DISABLE_RECOVERY setting. No
	// command in this repository consults it; txnlogctl recover always
	// runs the recovery pass.
	DisableRecovery() bool

	// FsyncAudit reports the TABLEXN_FSYNC_AUDIT setting. The fsync
	// call-count instrumentation itself is the fsync_audit build tag; no
	// code in this repository reads this flag or logs those counters.
	FsyncAudit() bool

	// TidierMaxAttempts and TidierBaseDelay tune the tidier's retry
	// backoff (TABLEXN_TIDIER_MAX_ATTEMPTS / TABLEXN_TIDIER_BASE_DELAY_MS).
	TidierMaxAttempts() int
	TidierBaseDelay() time.Duration

	// ArchiveBucket, when non-empty, enables archival of committed-away
	// table files to S3 before they're unlinked (TABLEXN_ARCHIVE_BUCKET).
	ArchiveBucket() string
	ArchivePrefix() string

	// RegistryPath is where the tidier's failed-deletion retry queue is
	// persisted across restarts (TABLEXN_REGISTRY_PATH).
	RegistryPath() string

	// Source reports where this configuration came from, for
	// diagnostics: "env", or "yaml" when an override file was applied.
	Source() string
}

// AppConfig is the concrete Config implementation.
type AppConfig struct {
	tableDir          string
	strictFsync       bool
	disableRecovery   bool
	fsyncAudit        bool
	tidierMaxAttempts int
	tidierBaseDelay   time.Duration
	archiveBucket     string
	archivePrefix     string
	registryPath      string
	source            string
}

var _ Config = (*AppConfig)(nil)

func (c *AppConfig) TableDir() string            { return c.tableDir }
func (c *AppConfig) StrictFsync() bool           { return c.strictFsync }
func (c *AppConfig) DisableRecovery() bool       { return c.disableRecovery }
func (c *AppConfig) FsyncAudit() bool            { return c.fsyncAudit }
func (c *AppConfig) TidierMaxAttempts() int      { return c.tidierMaxAttempts }
func (c *AppConfig) TidierBaseDelay() time.Duration { return c.tidierBaseDelay }
func (c *AppConfig) ArchiveBucket() string       { return c.archiveBucket }
func (c *AppConfig) ArchivePrefix() string       { return c.archivePrefix }
func (c *AppConfig) RegistryPath() string        { return c.registryPath }
func (c *AppConfig) Source() string              { return c.source }

// yamlOverrides is the shape of an optional override file named by
// TABLEXN_CONFIG_FILE. Any field left zero/empty falls through to the
// environment-derived default instead of overwriting it.
type yamlOverrides struct {
	TableDir          string `yaml:"table_dir"`
	StrictFsync       *bool  `yaml:"strict_fsync"`
	DisableRecovery   *bool  `yaml:"disable_recovery"`
	FsyncAudit        *bool  `yaml:"fsync_audit"`
	TidierMaxAttempts int    `yaml:"tidier_max_attempts"`
	TidierBaseDelayMs int    `yaml:"tidier_base_delay_ms"`
	ArchiveBucket     string `yaml:"archive_bucket"`
	ArchivePrefix     string `yaml:"archive_prefix"`
	RegistryPath      string `yaml:"registry_path"`
}

// Load builds a Config from the environment, then applies an optional
// YAML override file if TABLEXN_CONFIG_FILE is set.
func Load() (*AppConfig, error) {
	c := &AppConfig{
		tableDir:          getenv("TABLEXN_TABLE_DIR", "."),
		strictFsync:       getenvBool("TABLEXN_STRICT_FSYNC", false),
		disableRecovery:   getenvBool("TABLEXN_DISABLE_RECOVERY", false),
		fsyncAudit:        getenvBool("TABLEXN_FSYNC_AUDIT", false),
		tidierMaxAttempts: getenvInt("TABLEXN_TIDIER_MAX_ATTEMPTS", 8),
		tidierBaseDelay:   time.Duration(getenvInt("TABLEXN_TIDIER_BASE_DELAY_MS", 50)) * time.Millisecond,
		archiveBucket:     getenv("TABLEXN_ARCHIVE_BUCKET", ""),
		archivePrefix:     getenv("TABLEXN_ARCHIVE_PREFIX", "tablexn/"),
		registryPath:      getenv("TABLEXN_REGISTRY_PATH", ""),
		source:            "env",
	}

	if path := os.Getenv("TABLEXN_CONFIG_FILE"); path != "" {
		if err := c.applyYAMLOverrides(path); err != nil {
			return nil, err
		}
		c.source = "yaml"
	}
	return c, nil
}

func (c *AppConfig) applyYAMLOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var o yamlOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if o.TableDir != "" {
		c.tableDir = o.TableDir
	}
	if o.StrictFsync != nil {
		c.strictFsync = *o.StrictFsync
	}
	if o.DisableRecovery != nil {
		c.disableRecovery = *o.DisableRecovery
	}
	if o.FsyncAudit != nil {
		c.fsyncAudit = *o.FsyncAudit
	}
	if o.TidierMaxAttempts != 0 {
		c.tidierMaxAttempts = o.TidierMaxAttempts
	}
	if o.TidierBaseDelayMs != 0 {
		c.tidierBaseDelay = time.Duration(o.TidierBaseDelayMs) * time.Millisecond
	}
	if o.ArchiveBucket != "" {
		c.archiveBucket = o.ArchiveBucket
	}
	if o.ArchivePrefix != "" {
		c.archivePrefix = o.ArchivePrefix
	}
	if o.RegistryPath != "" {
		c.registryPath = o.RegistryPath
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
