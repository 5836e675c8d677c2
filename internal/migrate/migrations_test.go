package migrate_test

import (
	"testing"

	"grantline/internal/db"
	"grantline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("schema version not advanced: %d", version)
	}

	for _, table := range []string{"raw_statuses", "organizations", "org_aliases", "people", "opportunities", "tasks", "ingest_runs", "events"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
