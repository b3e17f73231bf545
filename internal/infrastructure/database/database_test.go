package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

func TestOpen(t *testing.T) {
	t.Run("creates file and directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "cuebox.db")

		db, err := Open(FromConfig(config.DatabaseConfig{
			Path:        dbPath,
			WALMode:     true,
			BusyTimeout: 5,
		}))
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		info, err := os.Stat(dbPath)
		if err != nil {
			t.Fatalf("database file was not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != filePermissions {
			t.Errorf("file mode = %o, want %o", perm, filePermissions)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("single connection", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close() //nolint:errcheck // Test cleanup

		if got := db.Stats().MaxOpenConnections; got != 1 {
			t.Errorf("MaxOpenConnections = %d, want 1", got)
		}
	})
}

func TestDSN(t *testing.T) {
	got := dsn(Config{Path: "/data/cuebox.db", WALMode: true, BusyTimeout: 5})
	for _, want := range []string{
		"file:/data/cuebox.db?",
		"_busy_timeout=5000",
		"_foreign_keys=on",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn() = %q, missing %q", got, want)
		}
	}

	if got := dsn(Config{Path: "x.db"}); strings.Contains(got, "_journal_mode") {
		t.Errorf("dsn() without WAL = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	db.DB.Close() //nolint:errcheck // forcing a failure
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() on a closed database should fail")
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() without a connection error = %v", err)
	}
}

func TestInTx(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE runs (id TEXT PRIMARY KEY, automation TEXT NOT NULL)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	countRuns := func() int {
		t.Helper()
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
			t.Fatalf("COUNT error = %v", err)
		}
		return n
	}

	err := db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO runs VALUES (?, ?)", "r1", "dim-lights")
		return err
	})
	if err != nil {
		t.Fatalf("InTx() commit error = %v", err)
	}
	if n := countRuns(); n != 1 {
		t.Fatalf("rows after commit = %d, want 1", n)
	}

	errStop := errors.New("stop")
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO runs VALUES (?, ?)", "r2", "wind-down"); err != nil {
			return err
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("InTx() error = %v, want errStop", err)
	}
	if n := countRuns(); n != 1 {
		t.Errorf("rows after rollback = %d, want 1", n)
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.DatabaseConfig{Path: "/data/cuebox.db", WALMode: true, BusyTimeout: 7})
	want := Config{Path: "/data/cuebox.db", WALMode: true, BusyTimeout: 7}
	if got != want {
		t.Errorf("FromConfig() = %+v, want %+v", got, want)
	}
}

// openTestDB opens a database in a temporary directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}
