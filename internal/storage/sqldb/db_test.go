package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "engine.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	pg := Wrap(nil, Postgres)
	got := pg.Rebind(`SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)`)
	want := `SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)`
	if got != want {
		t.Fatalf("Rebind = %q, want %q", got, want)
	}
	my := Wrap(nil, MySQL)
	if q := "SELECT ?"; my.Rebind(q) != q {
		t.Fatalf("mysql queries must not be rewritten")
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"MySQL": MySQL, "postgresql": Postgres, "pg": Postgres, "sqlite3": SQLite} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one recorded migration, got %d", n)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO workflow_runs (id, definition, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"r1", "{}", "pending", 1, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := db.ExecContext(ctx, `INSERT INTO workflow_runs (id, definition, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"r1", "{}", "pending", 1, 1)
	if !IsDuplicate(err) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestMigrationFailureRollsBack(t *testing.T) {
	db := openSQLite(t)
	files := fstest.MapFS{
		"sqlite/0001_ok.sql":     {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"sqlite/0002_broken.sql": {Data: []byte("-- second\nCREATE TABLE b (id INTEGER);\nNOT SQL;")},
	}
	if err := db.migrateFrom(context.Background(), files); err == nil {
		t.Fatalf("expected broken migration to fail")
	}
	var n int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("only the first migration should be recorded, got %d", n)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- header\nCREATE TABLE x (a INT);\n\n  ;CREATE INDEX i ON x (a);")
	if len(got) != 2 {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	if IsDuplicate(errors.New("boom")) || IsDuplicate(nil) {
		t.Fatalf("plain errors are not duplicates")
	}
}
