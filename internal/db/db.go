// Package db is the SQLite-backed graph authority that answers remote graph
// commands. It is the reference collaborator behind the wire transport.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateEdge = errors.New("edge already exists")
	ErrCycle         = errors.New("contains edge would create a cycle")
)

// DB wraps a SQLite database connection
type DB struct {
	conn *sql.DB
	Path string

	now func() time.Time
}

// OpenDB opens a SQLite database with WAL mode and foreign keys enabled and
// creates the graph schema if it is missing.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would get its own empty database
		conn.SetMaxOpenConns(1)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{conn: conn, Path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	summary TEXT,
	node_type TEXT NOT NULL CHECK (node_type IN ('topic', 'task', 'resource')),
	task_status TEXT CHECK (task_status IN ('todo', 'done', 'cancelled')),
	priority TEXT CHECK (priority IN ('high', 'medium', 'low')),
	due_date TEXT,
	done_date TEXT,
	file_hash TEXT,
	file_path TEXT,
	file_content TEXT,
	user_note TEXT,
	resource_subtype TEXT CHECK (resource_subtype IN ('text', 'image', 'pdf', 'url', 'epub', 'other')),
	embedded_hash TEXT,
	processing_hash TEXT,
	embedding_status TEXT NOT NULL DEFAULT 'pending'
		CHECK (embedding_status IN ('pending', 'synced', 'dirty', 'error')),
	last_embedding_error TEXT,
	processing_stage TEXT NOT NULL DEFAULT 'todo'
		CHECK (processing_stage IN ('todo', 'chunking', 'embedding', 'done')),
	review_status TEXT NOT NULL DEFAULT 'unreviewed'
		CHECK (review_status IN ('unreviewed', 'reviewed', 'rejected')),
	is_pinned INTEGER NOT NULL DEFAULT 0,
	pinned_at TEXT,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS edges (
	edge_id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_node_id INTEGER NOT NULL REFERENCES nodes(node_id) ON DELETE CASCADE,
	target_node_id INTEGER NOT NULL REFERENCES nodes(node_id) ON DELETE CASCADE,
	relation_type TEXT NOT NULL CHECK (relation_type IN ('contains', 'related_to')),
	confidence_score REAL,
	is_manual INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CHECK (source_node_id <> target_node_id),
	UNIQUE (source_node_id, target_node_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_node_id, relation_type);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type, is_deleted);
`
