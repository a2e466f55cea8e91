package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"patchbay/internal/domain"
	"patchbay/internal/repository"
)

// Repository implements repository.Journal using SQLite
type Repository struct {
	db      *sql.DB
	session string
	now     func() time.Time
}

// New opens (creating if needed) the journal at dbPath. ":memory:" gives a
// private in-memory journal.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db, session: uuid.NewString(), now: time.Now}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		at INTEGER NOT NULL, -- unix nanoseconds
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		data JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deltas_kind ON deltas(kind);
	CREATE INDEX IF NOT EXISTS idx_deltas_session ON deltas(session);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Session returns the id stamped on entries appended by this repository
func (r *Repository) Session() string {
	return r.session
}

// Append journals a delta
func (r *Repository) Append(ctx context.Context, d domain.Delta) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO deltas (session, at, kind, summary, data)
		VALUES (?, ?, ?, ?, ?)
	`, r.session, r.now().UnixNano(), string(d.Kind), d.String(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert delta: %w", err)
	}
	return nil
}

// List returns journal entries, newest first
func (r *Repository) List(ctx context.Context, f repository.Filter) ([]repository.Entry, error) {
	query := `SELECT id, session, at, kind, summary, data FROM deltas WHERE 1=1`
	var args []interface{}

	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.Session != "" {
		query += ` AND session = ?`
		args = append(args, f.Session)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = repository.DefaultLimit
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deltas: %w", err)
	}
	defer rows.Close()

	entries := make([]repository.Entry, 0)
	for rows.Next() {
		var (
			e    repository.Entry
			at   int64
			kind string
			data string
		)
		if err := rows.Scan(&e.ID, &e.Session, &at, &kind, &e.Summary, &data); err != nil {
			return nil, fmt.Errorf("failed to scan delta: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		e.Kind = domain.EventKind(kind)
		if err := json.Unmarshal([]byte(data), &e.Delta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delta %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deltas: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the cutoff and returns how many went
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deltas WHERE at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune deltas: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

var _ repository.Journal = (*Repository)(nil)
