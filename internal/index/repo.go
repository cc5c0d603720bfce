package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Row represents one row in the entities table.
type Row struct {
	Path      string
	Type      string
	ID        string
	Title     string
	Status    string
	Checksum  string
	UpdatedAt time.Time
}

// Hit is one search result.
type Hit struct {
	Path    string
	Type    string
	Title   string
	Snippet string
}

// Upsert inserts or replaces one entity row.
func (db *DB) Upsert(r Row, body string) error {
	_, err := db.conn.Exec(`
		INSERT INTO entities (path, entity_type, entity_id, title, status, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			entity_type = excluded.entity_type,
			entity_id   = excluded.entity_id,
			title       = excluded.title,
			status      = excluded.status,
			checksum    = excluded.checksum,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, r.Path, r.Type, r.ID, r.Title, r.Status, r.Checksum, body, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entity: %w", err)
	}
	return nil
}

// Delete removes one entity row. Deleting an unindexed path is a no-op.
func (db *DB) Delete(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM entities WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete entity: %w", err)
	}
	return nil
}

// Checksum returns the stored checksum for a path, or empty string if the
// path is not indexed.
func (db *DB) Checksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM entities WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum %s: %w", path, err)
	}
	return cs, nil
}

// AllChecksums returns the checksum of every indexed entity, keyed by path.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM entities`)
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

// Search returns entities whose title or body contains the query,
// case-insensitively. typeName narrows the search when non-empty. The
// substring semantics match the file-scanning search exactly.
func (db *DB) Search(query, typeName string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.ToLower(query) + "%"

	q := `
		SELECT path, entity_type, title, substr(body, 1, 200)
		FROM entities
		WHERE (lower(title) LIKE ? OR lower(body) LIKE ?)`
	args := []any{like, like}
	if typeName != "" {
		q += ` AND entity_type = ?`
		args = append(args, typeName)
	}
	q += ` ORDER BY path LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Path, &h.Type, &h.Title, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
