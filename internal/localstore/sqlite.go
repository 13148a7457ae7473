// Package localstore is the device-side copy of every collection, backed by
// SQLite. It is always writable, with or without connectivity, and is the
// single write path both the application and the sync engine go through.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/timestamp"
	"github.com/example/wellness-sync-engine/internal/types"
)

// Store wraps the SQLite handle. A single connection serializes writes so
// the UI layer and the sync engine never contend on ad hoc locks.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the local database at path and ensures the schema
// exists. Use ":memory:" for tests.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the handle is usable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) ensureSchema() error {
	for _, collection := range types.Collections() {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id             TEXT PRIMARY KEY,
			owner_identity TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			deleted        INTEGER NOT NULL DEFAULT 0,
			payload        TEXT NOT NULL
		)`, string(collection))
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table %s: %w", collection, err)
		}
	}
	return nil
}

// List returns every record in the collection, tombstones included.
func (s *Store) List(ctx context.Context, collection types.Collection) ([]types.Record, error) {
	query := fmt.Sprintf(`SELECT id, owner_identity, updated_at, deleted, payload FROM %q`, string(collection))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var (
			rec       types.Record
			updatedAt string
			deleted   int
			payload   string
		)
		if err := rows.Scan(&rec.ID, &rec.Owner, &updatedAt, &deleted, &payload); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		rec.UpdatedAt = timestamp.Parse(updatedAt)
		if timestamp.IsSentinel(rec.UpdatedAt) {
			s.logger.Warn().Str("collection", string(collection)).Str("id", string(rec.ID)).Str("raw", updatedAt).Msg("unparseable local timestamp; using far-past sentinel")
		}
		rec.Deleted = deleted != 0
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, collection types.Collection, id types.RecordID) (types.Record, error) {
	query := fmt.Sprintf(`SELECT id, owner_identity, updated_at, deleted, payload FROM %q WHERE id = ?`, string(collection))
	var (
		rec       types.Record
		updatedAt string
		deleted   int
		payload   string
	)
	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(&rec.ID, &rec.Owner, &updatedAt, &deleted, &payload)
	if err != nil {
		return types.Record{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	rec.UpdatedAt = timestamp.Parse(updatedAt)
	rec.Deleted = deleted != 0
	rec.Payload = []byte(payload)
	return rec, nil
}

// Upsert writes the record as-is. The sync engine uses this to apply
// conflict winners without refreshing UpdatedAt.
func (s *Store) Upsert(ctx context.Context, collection types.Collection, rec types.Record) error {
	stmt := fmt.Sprintf(`INSERT INTO %q (id, owner_identity, updated_at, deleted, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_identity = excluded.owner_identity,
			updated_at     = excluded.updated_at,
			deleted        = excluded.deleted,
			payload        = excluded.payload`, string(collection))
	deleted := 0
	if rec.Deleted {
		deleted = 1
	}
	if _, err := s.db.ExecContext(ctx, stmt, string(rec.ID), string(rec.Owner), timestamp.Format(rec.UpdatedAt), deleted, string(rec.Payload)); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Save is the application-facing mutation path: it stamps UpdatedAt to now
// before writing, keeping the timestamp monotonically non-decreasing for
// successive local mutations.
func (s *Store) Save(ctx context.Context, collection types.Collection, rec types.Record) (types.Record, error) {
	rec.UpdatedAt = time.Now().UTC()
	if err := s.Upsert(ctx, collection, rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

// Delete marks the record as a tombstone stamped to now. The deletion
// propagates on the next sync cycle instead of being modeled as absence.
func (s *Store) Delete(ctx context.Context, collection types.Collection, id types.RecordID) error {
	stmt := fmt.Sprintf(`UPDATE %q SET deleted = 1, updated_at = ? WHERE id = ?`, string(collection))
	if _, err := s.db.ExecContext(ctx, stmt, timestamp.Format(time.Now().UTC()), string(id)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// CountAll returns the total number of rows across every collection.
func (s *Store) CountAll(ctx context.Context) (int, error) {
	total := 0
	for _, collection := range types.Collections() {
		var n int
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, string(collection))
		if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", collection, err)
		}
		total += n
	}
	return total, nil
}

// PurgeLocalData deletes every row of every collection in one transaction:
// either the whole device is cleared or none of it is, so sign-out never
// leaves a half-cleared device behind. Implements session.Purger.
func (s *Store) PurgeLocalData(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	for _, collection := range types.Collections() {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, string(collection))); err != nil {
			return fmt.Errorf("purge %s: %w", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	s.logger.Info().Msg("local data purged")
	return nil
}
