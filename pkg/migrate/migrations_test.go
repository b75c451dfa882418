package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vyris/vyris-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"*_create_allocations.sql": {
			"CREATE TABLE IF NOT EXISTS allocations",
			"CONSTRAINT ux_allocations_drop_sequence UNIQUE (tier, year, sequence_num)",
			"CONSTRAINT ux_allocations_drop_sort_order UNIQUE (tier, year, sort_order)",
			"WHERE claimed = false",
			"DROP TABLE IF EXISTS allocations",
		},
		"*_create_memberships.sql": {
			"CONSTRAINT ux_memberships_allocation UNIQUE (allocation_id)",
			"CONSTRAINT ux_memberships_pass_serial UNIQUE (pass_serial)",
			"CONSTRAINT ux_membership_devices_device UNIQUE (membership_id, device_id)",
			"ux_membership_devices_one_active",
		},
		"*_create_receipt_ledger.sql": {
			"CONSTRAINT ux_receipt_ledger_receipt_hash UNIQUE (receipt_hash)",
			"CHECK (status IN ('PENDING', 'FULFILLED', 'FAILED'))",
			"CHECK (status <> 'FULFILLED' OR membership_id IS NOT NULL)",
		},
		"*_create_encounters.sql": {
			"CONSTRAINT ux_encounters_token UNIQUE (encounter_token)",
			"CHECK (initiator_id <> receiver_id)",
		},
		"*_create_reforge_requests.sql": {
			"CONSTRAINT ux_reforge_requests_token_hash UNIQUE (token_hash)",
			"CHECK (status IN ('PENDING', 'CONFIRMED', 'EXPIRED'))",
		},
		"*_create_outbox.sql": {
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"CREATE TABLE IF NOT EXISTS outbox_dlq",
			"'membership_minted'",
		},
	}

	for pattern, checks := range cases {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		if err != nil {
			t.Fatalf("glob %s: %v", pattern, err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected one migration for %s, got %d", pattern, len(matches))
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			t.Fatalf("read migration file: %v", err)
		}
		content := string(data)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", filepath.Base(matches[0]), sub)
			}
		}
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("empty dir should fail")
	}

	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected filename error")
	}
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "20250101000000_broken.sql"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected unbalanced statement error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Drop Index!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_drop_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Embedded()); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatal(err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != len(embedded) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}
