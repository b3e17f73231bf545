package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
)

// DB is the cuebox SQLite database. The embedded *sql.DB is used directly
// by the state store and the run log.
type DB struct {
	*sql.DB
	path string
}

// Config contains database configuration options.
type Config struct {
	// Path is the SQLite file. Its directory is created on Open.
	Path string

	// WALMode lets the API read while the engine writes.
	WALMode bool

	// BusyTimeout is how long a writer waits for the lock, in seconds.
	BusyTimeout int
}

// FromConfig converts the database section of config.yaml.
func FromConfig(cfg config.DatabaseConfig) Config {
	return Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	}
}

// dsn builds the go-sqlite3 connection string for cfg.
// See https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at cfg.Path and checks the
// connection. The file is restricted to its owner.
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database
//   - error: If the directory, the file or the connection fails
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite has a single writer, and the run log and state
	// store write from different goroutines.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file exists after the ping.
	if err := os.Chmod(cfg.Path, filePermissions); err != nil && !os.IsNotExist(err) {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("restricting database file: %w", err)
	}

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the connection. Closing a DB without a connection is a no-op.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query. It implements the API health checker.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
