package dbopen

import (
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenAppliesPragmas(t *testing.T) {
	db := OpenMemory(t)

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 10_000 {
		t.Fatalf("busy_timeout = %d, want 10000", timeout)
	}
}

func TestOpenWithSchema(t *testing.T) {
	db := OpenMemory(t, WithSchema("CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT)"))

	if _, err := db.Exec("INSERT INTO things (name) VALUES ('a')"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM things").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestOpenMkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")
	db, err := Open(path, WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
}

func TestOpenBadDriver(t *testing.T) {
	if _, err := Open(":memory:", WithDriver("no-such-driver")); err == nil {
		t.Fatal("expected error for unregistered driver")
	}
}
