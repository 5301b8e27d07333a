package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TABLEXN_TABLE_DIR", "TABLEXN_STRICT_FSYNC", "TABLEXN_DISABLE_RECOVERY",
		"TABLEXN_FSYNC_AUDIT", "TABLEXN_TIDIER_MAX_ATTEMPTS", "TABLEXN_TIDIER_BASE_DELAY_MS",
		"TABLEXN_ARCHIVE_BUCKET", "TABLEXN_ARCHIVE_PREFIX", "TABLEXN_REGISTRY_PATH",
		"TABLEXN_CONFIG_FILE",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.TableDir() != "." {
		t.Errorf("TableDir() = %q, want .", c.TableDir())
	}
	if c.StrictFsync() {
		t.Error("StrictFsync() default should be false")
	}
	if c.TidierMaxAttempts() != 8 {
		t.Errorf("TidierMaxAttempts() = %d, want 8", c.TidierMaxAttempts())
	}
	if c.Source() != "env" {
		t.Errorf("Source() = %q, want env", c.Source())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("TABLEXN_TABLE_DIR", "/var/tablexn")
	os.Setenv("TABLEXN_STRICT_FSYNC", "true")
	defer clearEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.TableDir() != "/var/tablexn" {
		t.Errorf("TableDir() = %q", c.TableDir())
	}
	if !c.StrictFsync() {
		t.Error("StrictFsync() should be true")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tablexn.yaml")
	if err := os.WriteFile(path, []byte("table_dir: /yaml/dir\nstrict_fsync: true\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	os.Setenv("TABLEXN_CONFIG_FILE", path)
	defer clearEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.TableDir() != "/yaml/dir" {
		t.Errorf("TableDir() = %q, want /yaml/dir", c.TableDir())
	}
	if !c.StrictFsync() {
		t.Error("StrictFsync() should be true from YAML override")
	}
	if c.Source() != "yaml" {
		t.Errorf("Source() = %q, want yaml", c.Source())
	}
}
