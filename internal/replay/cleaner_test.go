package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridflow/engine/internal/logging"
)

func makeBundle(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frames.bin.zst"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(dir, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return dir
}

func TestCleanerEnforcesRunLimit(t *testing.T) {
	root := t.TempDir()
	makeBundle(t, root, "run-old", 3*time.Hour)
	makeBundle(t, root, "run-mid", 2*time.Hour)
	newest := makeBundle(t, root, "run-new", time.Hour)

	cleaner := NewCleaner(root, RetentionPolicy{MaxRuns: 1}, logging.NewTestLogger())
	cleaner.RunOnce()

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || filepath.Join(root, entries[0].Name()) != newest {
		t.Fatalf("expected only the newest run retained, got %v", entries)
	}
	stats := cleaner.Stats()
	if stats.Runs != 1 || stats.Bytes == 0 {
		t.Fatalf("unexpected storage stats: %+v", stats)
	}
}

func TestCleanerEnforcesAge(t *testing.T) {
	root := t.TempDir()
	makeBundle(t, root, "run-stale", 48*time.Hour)
	makeBundle(t, root, "run-fresh", time.Minute)

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: 24 * time.Hour}, logging.NewTestLogger())
	cleaner.RunOnce()

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "run-fresh" {
		t.Fatalf("expected stale run removal, got %v", entries)
	}
}

func TestCleanerIgnoresLooseFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write loose file: %v", err)
	}
	cleaner := NewCleaner(root, RetentionPolicy{MaxRuns: 1}, logging.NewTestLogger())
	cleaner.RunOnce()

	if _, err := os.Stat(filepath.Join(root, "notes.txt")); err != nil {
		t.Fatalf("expected loose file untouched: %v", err)
	}
}
