// SPDX-License-Identifier: AGPL-3.0
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/corestack/taskorch/pkg/task"
)

// SQLGateway is a single-host or shared-SQL-backed Gateway. It is
// constructed via NewSQLiteGateway or NewPostgresGateway, which pick the
// driver and placeholder style; the query logic itself is identical for
// both since it only relies on portable SQL.
type SQLGateway struct {
	db          *sql.DB
	placeholder func(n int) string
}

const createTableSQLite = `
CREATE TABLE IF NOT EXISTS checkpoints (
	user_id TEXT NOT NULL,
	slot TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, slot)
)`

const createTablePostgres = `
CREATE TABLE IF NOT EXISTS checkpoints (
	user_id TEXT NOT NULL,
	slot TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, slot)
)`

// NewSQLiteGateway opens (creating if necessary) a SQLite-backed
// checkpoint store at path, suitable for single-host durability.
func NewSQLiteGateway(path string) (*SQLGateway, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	if _, err := db.Exec(createTableSQLite); err != nil {
		return nil, fmt.Errorf("checkpoint: create table: %w", err)
	}
	return &SQLGateway{db: db, placeholder: func(n int) string { return "?" }}, nil
}

// NewPostgresGateway opens a PostgreSQL-backed checkpoint store using dsn,
// suitable for durability shared across multiple processor instances.
func NewPostgresGateway(dsn string) (*SQLGateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open postgres: %w", err)
	}
	if _, err := db.Exec(createTablePostgres); err != nil {
		return nil, fmt.Errorf("checkpoint: create table: %w", err)
	}
	return &SQLGateway{db: db, placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}, nil
}

func (g *SQLGateway) Get(ctx context.Context, userID, slot string) (*task.State, error) {
	query := fmt.Sprintf("SELECT state FROM checkpoints WHERE user_id = %s AND slot = %s",
		g.placeholder(1), g.placeholder(2))

	var raw string
	err := g.db.QueryRowContext(ctx, query, userID, slot).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: query: %w", err)
	}

	var state task.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &state, nil
}

func (g *SQLGateway) Put(ctx context.Context, userID, slot string, state *task.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO checkpoints (user_id, slot, state, updated_at)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (user_id, slot) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		g.placeholder(1), g.placeholder(2), g.placeholder(3), g.placeholder(4))

	_, err = g.db.ExecContext(ctx, query, userID, slot, string(raw), state.LastUpdate)
	if err != nil {
		return fmt.Errorf("checkpoint: upsert: %w", err)
	}
	return nil
}

func (g *SQLGateway) List(ctx context.Context, userID string) ([]Summary, error) {
	query := fmt.Sprintf("SELECT slot, state FROM checkpoints WHERE user_id = %s", g.placeholder(1))

	rows, err := g.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var slot, raw string
		if err := rows.Scan(&slot, &raw); err != nil {
			return nil, fmt.Errorf("checkpoint: scan: %w", err)
		}
		var state task.State
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		out = append(out, summarize(slot, &state))
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (g *SQLGateway) Close() error {
	return g.db.Close()
}
