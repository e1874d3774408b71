package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/kodebase/internal/apperr"
)

// ArtifactRow represents a row in the artifacts table.
type ArtifactRow struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Priority  string    `json:"priority"`
	Assignee  string    `json:"assignee"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertArtifact inserts or replaces an artifact, its FTS entry and its
// incoming edges within a transaction. blockedBy lists the artifact's
// blockers.
func (db *DB) UpsertArtifact(r ArtifactRow, body string, blockedBy []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	// A record moved to another file keeps its id; drop the old path first.
	if _, err := tx.Exec(`DELETE FROM artifacts WHERE path = ? AND id <> ?`, r.Path, r.ID); err != nil {
		return fmt.Errorf("index: clear path: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO artifacts (id, path, type, title, state, priority, assignee, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path       = excluded.path,
			type       = excluded.type,
			title      = excluded.title,
			state      = excluded.state,
			priority   = excluded.priority,
			assignee   = excluded.assignee,
			checksum   = excluded.checksum,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, r.ID, r.Path, r.Type, r.Title, r.State, r.Priority, r.Assignee, r.Checksum, body, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert artifact: %w", err)
	}

	if err := ftsUpsert(tx, r.ID, r.Title, body); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM edges WHERE blocked = ?`, r.ID); err != nil {
		return fmt.Errorf("index: clear edges: %w", err)
	}
	if len(blockedBy) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO edges (blocker, blocked) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare edge insert: %w", err)
		}
		defer stmt.Close()
		for _, blocker := range blockedBy {
			if _, err := stmt.Exec(blocker, r.ID); err != nil {
				return fmt.Errorf("index: insert edge: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteByPath removes the artifact stored at path together with its FTS
// entry and incoming edges. It returns the id that was removed, or "" when
// nothing was indexed at path.
func (db *DB) DeleteByPath(path string) (string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRow(`SELECT id FROM artifacts WHERE path = ?`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: lookup %s: %w", path, err)
	}

	if err := ftsDelete(tx, id); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`DELETE FROM edges WHERE blocked = ?`, id); err != nil {
		return "", fmt.Errorf("index: delete edges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("index: delete artifact: %w", err)
	}
	return id, tx.Commit()
}

// GetChecksum returns the stored checksum for path, or "" if not indexed.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM artifacts WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path → checksum for every indexed artifact.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// AllPaths returns every indexed record path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	cs, err := db.AllChecksums()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(cs))
	for p := range cs {
		out[p] = struct{}{}
	}
	return out, nil
}

const rowColumns = `id, path, type, title, state, priority, assignee, checksum, updated_at`

func scanRow(sc interface{ Scan(...any) error }) (ArtifactRow, error) {
	var r ArtifactRow
	err := sc.Scan(&r.ID, &r.Path, &r.Type, &r.Title, &r.State, &r.Priority, &r.Assignee, &r.Checksum, &r.UpdatedAt)
	return r, err
}

// GetArtifact returns the indexed row for id.
func (db *DB) GetArtifact(id string) (*ArtifactRow, error) {
	r, err := scanRow(db.conn.QueryRow(`SELECT `+rowColumns+` FROM artifacts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.ArtifactNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", id, err)
	}
	return &r, nil
}

// ListByState returns indexed rows ordered by id. An empty state lists
// every artifact; otherwise only those whose current state matches.
func (db *DB) ListByState(state string) ([]ArtifactRow, error) {
	q := `SELECT ` + rowColumns + ` FROM artifacts`
	var args []any
	if state != "" {
		q += ` WHERE state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY id`
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Dependents returns the ids of every artifact blocked by id.
func (db *DB) Dependents(id string) ([]string, error) {
	return db.edgeQuery(`SELECT blocked FROM edges WHERE blocker = ? ORDER BY blocked`, id)
}

// Blockers returns the ids id is blocked by.
func (db *DB) Blockers(id string) ([]string, error) {
	return db.edgeQuery(`SELECT blocker FROM edges WHERE blocked = ? ORDER BY blocker`, id)
}

func (db *DB) edgeQuery(q, id string) ([]string, error) {
	rows, err := db.conn.Query(q, id)
	if err != nil {
		return nil, fmt.Errorf("index: edges of %s: %w", id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StateCounts returns the number of indexed artifacts per current state.
func (db *DB) StateCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT state, count(*) FROM artifacts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("index: state counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}
