package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"time"
)

// MigrationsFS holds the SQL migration files. The migrations package sets
// it on import; tests substitute an fstest.MapFS.
var MigrationsFS fs.FS

// MigrationsDir is the directory inside MigrationsFS holding the files.
var MigrationsDir = "migrations"

// ErrMigrationFiles is returned when the migration files are inconsistent.
var ErrMigrationFiles = errors.New("database: invalid migration files")

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema change, read from a pair of files.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

// MigrationStatus splits the known migrations into applied and pending.
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []Migration
}

// Migrate applies every pending migration in version order.
//
// Each migration commits on its own. When one fails it is rolled back,
// earlier ones stay applied and a later Migrate resumes from it.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If the files are invalid or a migration fails
func (db *DB) Migrate(ctx context.Context) error {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, m := range status.Pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration. It is a no-op
// when nothing is applied.
func (db *DB) MigrateDown(ctx context.Context) error {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if len(status.Applied) == 0 {
		return nil
	}
	latest := status.Applied[len(status.Applied)-1]

	all, err := readMigrations(MigrationsFS, MigrationsDir)
	if err != nil {
		return err
	}
	idx := sort.Search(len(all), func(i int) bool { return all[i].Version >= latest.Version })
	if idx == len(all) || all[idx].Version != latest.Version {
		return fmt.Errorf("%w: applied migration %s has no files", ErrMigrationFiles, latest.Version)
	}
	m := all[idx]
	if m.Down == "" {
		return fmt.Errorf("%w: migration %s has no down file", ErrMigrationFiles, m.Version)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("reverting migration %s_%s: %w", m.Version, m.Name, err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
		return err
	})
}

// MigrationStatus reports which migrations are applied and which are
// pending. It creates the schema_migrations table if needed.
func (db *DB) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	var status MigrationStatus
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)`); err != nil {
		return status, fmt.Errorf("creating migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return status, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var a AppliedMigration
		var at string
		if err := rows.Scan(&a.Version, &a.Name, &at); err != nil {
			return status, fmt.Errorf("scanning migration row: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		status.Applied = append(status.Applied, a)
		applied[a.Version] = true
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("iterating migrations: %w", err)
	}

	all, err := readMigrations(MigrationsFS, MigrationsDir)
	if err != nil {
		return status, err
	}
	for _, m := range all {
		if !applied[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// readMigrations reads the migration files in dir, sorted by version.
// Files that do not look like migrations are ignored. A nil fsys or a
// missing dir yields no migrations.
func readMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("%w: version %s used by %s and %s", ErrMigrationFiles, version, m.Name, name)
		}
		if up {
			m.Up = string(data)
		} else {
			m.Down = string(data)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("%w: %s_%s has no up file", ErrMigrationFiles, m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationFilename splits "20261019_120000_state_values.up.sql" into
// its version, name and direction.
func parseMigrationFilename(filename string) (version, name string, up, ok bool) {
	m := migrationFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false, false
	}
	return m[1], m[2], m[3] == "up", true
}
