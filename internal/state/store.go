package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists serialized state values.
type Store interface {
	Load(ctx context.Context) ([]StoredValue, error)
	Save(ctx context.Context, v StoredValue) error
	Delete(ctx context.Context, plugin, key string) error
}

// StoredValue is one persisted cell value.
type StoredValue struct {
	Plugin    string
	Key       string
	Value     any
	UpdatedAt time.Time
}

// SQLiteStore implements Store on the state_values table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed state store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns every persisted value.
func (s *SQLiteStore) Load(ctx context.Context) ([]StoredValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin, key, value, updated_at FROM state_values ORDER BY plugin, key`)
	if err != nil {
		return nil, fmt.Errorf("querying state values: %w", err)
	}
	defer rows.Close()

	var out []StoredValue
	for rows.Next() {
		var (
			v       StoredValue
			raw     string
			updated string
		)
		if err := rows.Scan(&v.Plugin, &v.Key, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scanning state value: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v.Value); err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", v.Plugin, v.Key, err)
		}
		v.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // zero time on bad legacy rows
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state values: %w", err)
	}
	return out, nil
}

// Save upserts one value.
func (s *SQLiteStore) Save(ctx context.Context, v StoredValue) error {
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("encoding %s.%s: %w", v.Plugin, v.Key, err)
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_values (plugin, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plugin, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		v.Plugin, v.Key, string(raw), v.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving %s.%s: %w", v.Plugin, v.Key, err)
	}
	return nil
}

// Delete removes one value. Deleting a missing value is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, plugin, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM state_values WHERE plugin = ? AND key = ?`, plugin, key); err != nil {
		return fmt.Errorf("deleting %s.%s: %w", plugin, key, err)
	}
	return nil
}

// Logger is the logging interface used by Persister.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// saveTimeout bounds a single persistence write made from a change listener.
const saveTimeout = 5 * time.Second

// Persister keeps serialized cells in sync with a Store.
type Persister struct {
	graph  *Graph
	store  Store
	logger Logger
}

// NewPersister creates a Persister for graph backed by store.
func NewPersister(graph *Graph, store Store) *Persister {
	return &Persister{graph: graph, store: store, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (p *Persister) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Restore writes stored values back into serialized cells.
// Values for cells that are undefined or no longer serialized are skipped.
//
// Returns:
//   - int: number of values restored
//   - error: if the store cannot be read
func (p *Persister) Restore(ctx context.Context) (int, error) {
	values, err := p.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, v := range values {
		spec, ok := p.graph.Spec(v.Plugin, v.Key)
		if !ok || !spec.Serialized {
			p.logger.Debug("skipping stored state value", "plugin", v.Plugin, "key", v.Key)
			continue
		}
		if _, err := p.graph.Set(v.Plugin, v.Key, v.Value); err != nil {
			p.logger.Warn("restoring state value failed", "plugin", v.Plugin, "key", v.Key, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

// Attach registers a change listener that saves serialized cells.
func (p *Persister) Attach() {
	p.graph.OnChange(p.handleChange)
}

func (p *Persister) handleChange(ch Change) {
	spec, ok := p.graph.Spec(ch.Plugin, ch.Key)
	if !ok || !spec.Serialized {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := p.store.Save(ctx, StoredValue{Plugin: ch.Plugin, Key: ch.Key, Value: ch.New})
	if err != nil {
		p.logger.Error("persisting state value failed", "plugin", ch.Plugin, "key", ch.Key, "error", err)
	}
}
