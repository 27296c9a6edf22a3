package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRoundTrip(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, KindBeacon, "genesis:20:0", []byte(`{"charge":55}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.Upsert(ctx, KindBeacon, "genesis:21:0", []byte(`{"charge":10}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Same id under a different kind is a separate row.
	if err := db.Upsert(ctx, KindGuardian, "genesis:20:0", []byte(`{}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	recs, err := db.LoadAll(ctx, KindBeacon)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("loaded %d beacon records, want 2", len(recs))
	}

	// Upsert overwrites in place.
	if err := db.Upsert(ctx, KindBeacon, "genesis:20:0", []byte(`{"charge":80}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	recs, _ = db.LoadAll(ctx, KindBeacon)
	if len(recs) != 2 {
		t.Fatalf("upsert duplicated a row: %d records", len(recs))
	}
	for _, r := range recs {
		if r.ID == "genesis:20:0" && string(r.Snapshot) != `{"charge":80}` {
			t.Fatalf("snapshot not overwritten: %s", r.Snapshot)
		}
	}

	if err := db.Delete(ctx, KindBeacon, "genesis:21:0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, _ = db.LoadAll(ctx, KindBeacon)
	if len(recs) != 1 {
		t.Fatalf("delete left %d records, want 1", len(recs))
	}

	// Deleting a missing row is not an error.
	if err := db.Delete(ctx, KindBeacon, "nope"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestSQLiteRunsInWALMode(t *testing.T) {
	db := openTemp(t)
	var mode string
	if err := db.conn.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestSQLiteEmptyKind(t *testing.T) {
	db := openTemp(t)
	recs, err := db.LoadAll(context.Background(), KindEvent)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("fresh database returned %d records", len(recs))
	}
}
