package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunRecorder persists run records as the queue produces them.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
}

// RunRepository is the full run log interface used by the API.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type RunRepository interface {
	RunRecorder
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, automation string, limit int) ([]Run, error)
}

// Run listing limits.
const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// runColumns is the SELECT column list for run queries.
const runColumns = `id, automation, sync, source, status, started_at, completed_at,
			actions_total, actions_completed, actions_failed, actions_skipped, error, duration_ms`

// SQLiteRunRepository implements RunRepository using SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates a new SQLite-backed run log.
func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// CreateRun inserts a new run record.
func (r *SQLiteRunRepository) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO automation_runs (
			id, automation, sync, source, status, started_at, completed_at,
			actions_total, actions_completed, actions_failed, actions_skipped, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Automation,
		boolToInt(run.Sync),
		run.Source,
		string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(run.CompletedAt),
		run.ActionsTotal,
		run.ActionsCompleted,
		run.ActionsFailed,
		run.ActionsSkipped,
		nullableString(run.Error),
		run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun updates an existing run record.
func (r *SQLiteRunRepository) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE automation_runs SET
			status = ?, completed_at = ?,
			actions_total = ?, actions_completed = ?, actions_failed = ?, actions_skipped = ?,
			error = ?, duration_ms = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(run.Status),
		nullableTime(run.CompletedAt),
		run.ActionsTotal,
		run.ActionsCompleted,
		run.ActionsFailed,
		run.ActionsSkipped,
		nullableString(run.Error),
		run.DurationMS,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *SQLiteRunRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE id = ?`

	run, err := scanRunRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs, newest first.
// An empty automation name lists runs of every automation.
func (r *SQLiteRunRepository) ListRuns(ctx context.Context, automation string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	query := `SELECT ` + runColumns + ` FROM automation_runs`
	args := []any{}
	if automation != "" {
		query += ` WHERE automation = ?`
		args = append(args, automation)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(scanner rowScanner) (*Run, error) {
	var run Run
	var sync int
	var status, startedAt string
	var completedAt, runErr sql.NullString
	var durationMS sql.NullInt64

	err := scanner.Scan(
		&run.ID,
		&run.Automation,
		&sync,
		&run.Source,
		&status,
		&startedAt,
		&completedAt,
		&run.ActionsTotal,
		&run.ActionsCompleted,
		&run.ActionsFailed,
		&run.ActionsSkipped,
		&runErr,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	run.Sync = sync != 0
	run.Status = RunStatus(status)
	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, completedAt.String); parseErr == nil {
			run.CompletedAt = &t
		}
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		run.DurationMS = &d
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
