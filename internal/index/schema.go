// Package index mirrors artifact records into SQLite for state queries,
// reverse dependency lookups and full-text search (FTS5 when built with the
// sqlite_fts5 tag).
package index

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL DEFAULT '',
	priority   TEXT NOT NULL DEFAULT '',
	assignee   TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_state ON artifacts(state);

CREATE TABLE IF NOT EXISTS edges (
	blocker TEXT NOT NULL,
	blocked TEXT NOT NULL,
	UNIQUE(blocker, blocked)
);

CREATE INDEX IF NOT EXISTS idx_edges_blocker ON edges(blocker);
CREATE INDEX IF NOT EXISTS idx_edges_blocked ON edges(blocked);
`

const openMaxElapsed = 5 * time.Second

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema. A
// database locked by another process is retried for a few seconds.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = openMaxElapsed
	err = backoff.Retry(func() error {
		if err := conn.Ping(); err != nil {
			return retryable(fmt.Errorf("index: ping: %w", err))
		}
		if _, err := conn.Exec(coreSchemaSQL); err != nil {
			return retryable(fmt.Errorf("index: apply core schema: %w", err))
		}
		if err := initFTS(conn); err != nil {
			return retryable(fmt.Errorf("index: apply fts schema: %w", err))
		}
		return nil
	}, bo)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

// retryable marks everything except lock contention as permanent.
func retryable(err error) error {
	if isBusy(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Reset drops every indexed row.
func (db *DB) Reset() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsReset(tx); err != nil {
		return err
	}
	for _, table := range []string{"edges", "artifacts"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("index: reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}
