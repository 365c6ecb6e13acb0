package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBURL != defaultDBURL {
		t.Errorf("DBURL = %q, want %q", cfg.DBURL, defaultDBURL)
	}
	if cfg.BatchInterval != defaultBatchInterval {
		t.Errorf("BatchInterval = %s, want %s", cfg.BatchInterval, defaultBatchInterval)
	}
	if cfg.BatchThreshold != defaultBatchThreshold {
		t.Errorf("BatchThreshold = %d, want %d", cfg.BatchThreshold, defaultBatchThreshold)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "monitordb.yaml")
	contents := "db_url: sqlite://from-file.db\nbatching_interval: 5\nbatching_threshold: 10\n"
	if err := os.WriteFile(cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load([]string{
		"-config", cfgPath,
		"-logdir", filepath.Join(dir, "logs"),
		"-db-url", "postgres://example/db",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBURL != "postgres://example/db" {
		t.Errorf("DBURL = %q, want flag override", cfg.DBURL)
	}
	if cfg.BatchInterval != 5*time.Second {
		t.Errorf("BatchInterval = %s, want 5s from file", cfg.BatchInterval)
	}
	if cfg.BatchThreshold != 10 {
		t.Errorf("BatchThreshold = %d, want 10 from file", cfg.BatchThreshold)
	}
}

func TestLoadRejectsNonPositiveThreshold(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "monitordb.yaml")
	if err := os.WriteFile(cfgPath, []byte("batching_threshold: -1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load([]string{"-config", cfgPath, "-logdir", filepath.Join(dir, "logs")}); err == nil {
		t.Fatal("Load() expected error for non-positive batching_threshold")
	}
}
