package migrate

import (
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCreatesEntriesTable(t *testing.T) {
	db := openTestDB(t)
	if err := NewRunner(db).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"entries", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestStatusBeforeAndAfterRun(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	version, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if version != 0 || pending != 2 {
		t.Fatalf("before run: version=%d pending=%d, want 0/2", version, pending)
	}

	if err := r.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	version, pending, err = r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if version != 2 || pending != 0 {
		t.Fatalf("after run: version=%d pending=%d, want 2/0", version, pending)
	}
}
