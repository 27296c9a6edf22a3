package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLite implements Gateway on a single SQLite file. One table holds every
// entity kind; snapshots are opaque JSON blobs, so the schema never changes
// when the simulation grows new fields.
type SQLite struct {
	conn *sqlx.DB
}

// Open opens or creates the database at path in WAL mode.
func Open(path string) (*SQLite, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &SQLite{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// LoadAll returns every stored record of one kind.
func (db *SQLite) LoadAll(ctx context.Context, kind Kind) ([]Record, error) {
	var recs []Record
	err := db.conn.SelectContext(ctx, &recs,
		"SELECT id, snapshot FROM entities WHERE kind = ?", kind)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	return recs, nil
}

// Upsert writes one entity snapshot.
func (db *SQLite) Upsert(ctx context.Context, kind Kind, id string, snapshot []byte) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO entities (kind, id, snapshot, updated_at)
		 VALUES (?, ?, ?, unixepoch())
		 ON CONFLICT (kind, id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = unixepoch()`,
		kind, id, snapshot)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", kind, id, err)
	}
	return nil
}

// Delete removes one entity.
func (db *SQLite) Delete(ctx context.Context, kind Kind, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM entities WHERE kind = ? AND id = ?", kind, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}
