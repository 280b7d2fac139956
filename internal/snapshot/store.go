// Package snapshot persists named project snapshots to a SQLite database.
// A snapshot is the serialized form of a project tree plus a name and a
// timestamp. Saving under an existing name replaces the prior snapshot.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	sketcherrors "github.com/tinkerbench/sketch/internal/errors"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// Schema for the snapshots table. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	name TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	revision INTEGER NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_saved_at ON snapshots(saved_at);
`

// Info describes a stored snapshot without its payload.
type Info struct {
	Name     string    `json:"name"`
	Revision uint64    `json:"revision"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store is a SQLite-backed snapshot repository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply snapshot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save serializes the tree and stores it under name, replacing any prior
// snapshot with the same name.
func (s *Store) Save(ctx context.Context, name string, tree *vfs.Tree) error {
	if name == "" {
		return sketcherrors.NewValidationError("ERR_INVALID_ARGUMENT", "snapshot name must not be empty")
	}

	data, err := json.Marshal(tree.Serialize())
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (name, data, revision, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, revision = excluded.revision, saved_at = excluded.saved_at`,
		name, string(data), tree.Revision(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", name, err)
	}
	return nil
}

// Load reads the snapshot stored under name.
func (s *Store) Load(ctx context.Context, name string) (vfs.Serialized, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, sketcherrors.NewNotFoundError("ERR_SNAPSHOT_NOT_FOUND",
			fmt.Sprintf("snapshot %q does not exist", name))
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", name, err)
	}

	var serialized vfs.Serialized
	if err := json.Unmarshal([]byte(data), &serialized); err != nil {
		return nil, fmt.Errorf("decode snapshot %q: %w", name, err)
	}
	return serialized, nil
}

// Restore loads the named snapshot into the tree, replacing its contents.
func (s *Store) Restore(ctx context.Context, name string, tree *vfs.Tree) error {
	serialized, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	return tree.Load(serialized)
}

// List returns stored snapshots, most recent first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, revision, saved_at FROM snapshots ORDER BY saved_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var savedAt int64
		if err := rows.Scan(&info.Name, &info.Revision, &savedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		info.SavedAt = time.UnixMilli(savedAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes the named snapshot.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete snapshot %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sketcherrors.NewNotFoundError("ERR_SNAPSHOT_NOT_FOUND",
			fmt.Sprintf("snapshot %q does not exist", name))
	}
	return nil
}
