package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateAtBumpsPastNewestVersion(t *testing.T) {
	dir := t.TempDir()
	future := "-- +goose Up\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20990101000000_later.sql"), []byte(future), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := createAt(dir, "seed index", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := filepath.Base(path); got != "20990101000001_seed_index.sql" {
		t.Fatalf("unexpected filename %s", got)
	}
}

func TestCreateAtUsesClock(t *testing.T) {
	dir := t.TempDir()
	path, err := createAt(dir, "Drops", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := filepath.Base(path); got != "20250102030405_drops.sql" {
		t.Fatalf("unexpected filename %s", got)
	}
}

func TestCreateAtRejectsEmptyName(t *testing.T) {
	if _, err := createAt(t.TempDir(), "!!!", time.Now()); err == nil {
		t.Fatal("expected error for name without usable characters")
	}
}
