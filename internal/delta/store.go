package delta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/19Mahmoud19/joplin/internal/db"
	"github.com/19Mahmoud19/joplin/internal/driver"
)

const schema = `
CREATE TABLE IF NOT EXISTS delta_context (
    scope TEXT PRIMARY KEY,
    snapshot TEXT NOT NULL,
    pending TEXT NOT NULL,
    cursor_kind TEXT NOT NULL DEFAULT '',
    cursor_token TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL -- RFC3339
);
`

type dbContext struct {
	Scope       string `db:"scope"`
	Snapshot    string `db:"snapshot"`
	Pending     string `db:"pending"`
	CursorKind  string `db:"cursor_kind"`
	CursorToken string `db:"cursor_token"`
	UpdatedAt   string `db:"updated_at"`
}

// Store keeps the last delta context of every scope, so a restarted client
// continues from its last-known-good state.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

// NewStore prepares a store at dbPath. An empty path keeps it in memory.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("delta store already open")
	}

	opts := []db.SqliteOption{db.WithMaxOpenConns(1)}
	if s.dbPath != "" {
		opts = append(opts, db.WithPath(s.dbPath))
	}
	conn, err := db.NewSqliteDB(opts...)
	if err != nil {
		return fmt.Errorf("open delta store: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize delta store schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return fmt.Errorf("delta store not open")
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Load returns the context saved for scope, or nil when there is none.
func (s *Store) Load(ctx context.Context, scope string) (*Context, error) {
	var row dbContext
	err := s.db.GetContext(ctx, &row, "SELECT * FROM delta_context WHERE scope = ?", scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load delta context %s: %w", scope, err)
	}

	out := &Context{Snapshot: map[string]Entry{}}
	if err := json.Unmarshal([]byte(row.Snapshot), &out.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", scope, err)
	}
	if err := json.Unmarshal([]byte(row.Pending), &out.Pending); err != nil {
		return nil, fmt.Errorf("decode pending changes of %s: %w", scope, err)
	}
	if out.Cursor, err = driver.DecodeCursor(row.CursorKind, row.CursorToken); err != nil {
		return nil, fmt.Errorf("decode cursor of %s: %w", scope, err)
	}
	return out, nil
}

// Save replaces the context of scope.
func (s *Store) Save(ctx context.Context, scope string, c *Context) error {
	if c == nil {
		return fmt.Errorf("cannot save nil delta context")
	}

	snapshot, err := json.Marshal(c.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot of %s: %w", scope, err)
	}
	pending := []byte("[]")
	if len(c.Pending) > 0 {
		if pending, err = json.Marshal(c.Pending); err != nil {
			return fmt.Errorf("encode pending changes of %s: %w", scope, err)
		}
	}

	row := dbContext{
		Scope:     scope,
		Snapshot:  string(snapshot),
		Pending:   string(pending),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	row.CursorKind, row.CursorToken = driver.EncodeCursor(c.Cursor)

	query := `INSERT OR REPLACE INTO delta_context (scope, snapshot, pending, cursor_kind, cursor_token, updated_at)
	          VALUES (:scope, :snapshot, :pending, :cursor_kind, :cursor_token, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save delta context %s: %w", scope, err)
	}
	slog.Debug("delta context saved", "scope", scope, "items", len(c.Snapshot), "pending", len(c.Pending))
	return nil
}

// Reset forgets the context of scope; the next delta reports everything as added.
func (s *Store) Reset(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM delta_context WHERE scope = ?", scope); err != nil {
		return fmt.Errorf("reset delta context %s: %w", scope, err)
	}
	return nil
}

// Scopes lists every scope with a saved context.
func (s *Store) Scopes(ctx context.Context) ([]string, error) {
	var scopes []string
	if err := s.db.SelectContext(ctx, &scopes, "SELECT scope FROM delta_context ORDER BY scope"); err != nil {
		return nil, fmt.Errorf("list delta scopes: %w", err)
	}
	return scopes, nil
}
