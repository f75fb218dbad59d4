package tree

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Dialect selects placeholder style for the SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// SQL stores one row per leaf, keyed by its slash-joined path.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps db and creates the table if needed.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	t := &SQL{db: db, dialect: dialect}
	if err := t.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate tree_nodes: %w", err)
	}
	return t, nil
}

func (t *SQL) migrate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tree_nodes (
			path  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	return err
}

// q rewrites $n placeholders for dialects that use '?'.
func (t *SQL) q(query string) string {
	if t.dialect != SQLite {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

// Set replaces the subtree at path with a single leaf.
func (t *SQL) Set(ctx context.Context, path Path, value string) error {
	if err := path.Validate(); err != nil {
		return err
	}
	key := path.String()
	prefix := key + "/"

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(string(t.dialect), "set", path, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, t.q(`DELETE FROM tree_nodes WHERE substr(path, 1, $1) = $2`),
		utf8.RuneCountInString(prefix), prefix); err != nil {
		return wrap(string(t.dialect), "set", path, err)
	}
	// A value stored at an ancestor stops being a leaf.
	for i := 1; i < len(path); i++ {
		if _, err := tx.ExecContext(ctx, t.q(`DELETE FROM tree_nodes WHERE path = $1`), path[:i].String()); err != nil {
			return wrap(string(t.dialect), "set", path, err)
		}
	}
	if _, err := tx.ExecContext(ctx, t.q(`
		INSERT INTO tree_nodes (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = excluded.value
	`), key, value); err != nil {
		return wrap(string(t.dialect), "set", path, err)
	}
	return wrap(string(t.dialect), "set", path, tx.Commit())
}

// Get returns the subtree at path.
func (t *SQL) Get(ctx context.Context, path Path) (*Node, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.String()
	prefix := key + "/"

	rows, err := t.db.QueryContext(ctx, t.q(`
		SELECT path, value FROM tree_nodes
		WHERE path = $1 OR substr(path, 1, $2) = $3
	`), key, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, wrap(string(t.dialect), "get", path, err)
	}
	defer rows.Close()

	leaves := map[string]string{}
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, wrap(string(t.dialect), "get", path, err)
		}
		leaves[strings.TrimPrefix(strings.TrimPrefix(p, key), "/")] = v
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(string(t.dialect), "get", path, err)
	}
	return build(path[len(path)-1], leaves), nil
}

// Ping checks the database connection.
func (t *SQL) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}
