// Package remotestore talks to the remote Postgres copy of each collection.
// Rows are scoped by owner identity; the server stores whatever updated_at
// the client sends, because the client decides the LWW winner.
package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/engine"
	"github.com/example/wellness-sync-engine/internal/timestamp"
	"github.com/example/wellness-sync-engine/internal/types"
)

// Store provides owner-scoped CRUD over the five remote collections.
type Store struct {
	pool        *pgxpool.Pool
	callTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
	logger      zerolog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithCallTimeout bounds every remote call. A timed-out call is treated
// like any other network failure by the engine.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Store) { s.callTimeout = d }
}

// WithMaxRetries sets the retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) { s.retryDelay = d }
}

// New constructs a Store backed by the provided Postgres pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		callTimeout: 15 * time.Second,
		maxRetries:  3,
		retryDelay:  100 * time.Millisecond,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the five collection tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, collection := range types.Collections() {
		table, err := tableFor(collection)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             text PRIMARY KEY,
			owner_identity text NOT NULL,
			updated_at     timestamptz NOT NULL,
			deleted        boolean NOT NULL DEFAULT false,
			payload        jsonb NOT NULL
		)`, table)
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create remote table %s: %w", collection, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (owner_identity)`,
			pgx.Identifier{string(collection) + "_owner_idx"}.Sanitize(), table)
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create owner index for %s: %w", collection, err)
		}
	}
	return nil
}

// List fetches every row the owner holds in the collection. updated_at is
// read back as text so the normalizer handles whatever encoding the server
// emits; a row with a malformed payload is logged, counted and skipped so
// the rest of the collection still syncs.
func (s *Store) List(ctx context.Context, collection types.Collection, owner types.Identity) ([]types.Record, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	query := fmt.Sprintf(`SELECT id, owner_identity, updated_at::text, deleted, payload FROM %s WHERE owner_identity = $1`, table)
	rows, err := s.pool.Query(ctx, query, string(owner))
	if err != nil {
		remoteCallTotal.WithLabelValues(string(collection), "list", "error").Inc()
		return nil, fmt.Errorf("list remote %s: %w", collection, err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var (
			rec       types.Record
			updatedAt string
			payload   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Owner, &updatedAt, &rec.Deleted, &payload); err != nil {
			remoteCallTotal.WithLabelValues(string(collection), "list", "error").Inc()
			return nil, fmt.Errorf("scan remote %s row: %w", collection, err)
		}
		if len(payload) > 0 && !json.Valid(payload) {
			skippedRows.WithLabelValues(string(collection)).Inc()
			s.logger.Warn().Str("collection", string(collection)).Str("id", string(rec.ID)).Msg("malformed remote payload; skipping row")
			continue
		}
		rec.UpdatedAt = timestamp.Parse(updatedAt)
		if timestamp.IsSentinel(rec.UpdatedAt) {
			s.logger.Warn().Str("collection", string(collection)).Str("id", string(rec.ID)).Str("raw", updatedAt).Msg("unparseable remote timestamp; using far-past sentinel")
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		remoteCallTotal.WithLabelValues(string(collection), "list", "error").Inc()
		return nil, fmt.Errorf("iterate remote %s rows: %w", collection, err)
	}

	remoteCallTotal.WithLabelValues(string(collection), "list", "ok").Inc()
	remoteCallSeconds.WithLabelValues(string(collection), "list").Observe(time.Since(start).Seconds())
	return records, nil
}

// Upsert writes the record to the remote store, retrying transient
// failures. The server keeps whatever updated_at the client sends.
func (s *Store) Upsert(ctx context.Context, collection types.Collection, rec types.Record) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	start := time.Now()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, owner_identity, updated_at, deleted, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			deleted    = EXCLUDED.deleted,
			payload    = EXCLUDED.payload
		WHERE %s.owner_identity = EXCLUDED.owner_identity`, table, table)

	err = s.retry(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		tag, err := s.pool.Exec(ctx, stmt,
			string(rec.ID), string(rec.Owner), timestamp.Format(rec.UpdatedAt), rec.Deleted, rec.Payload)
		if err != nil {
			return err
		}
		return upsertOutcome(tag, collection, rec.ID)
	})
	if err != nil {
		remoteCallTotal.WithLabelValues(string(collection), "upsert", "error").Inc()
		return fmt.Errorf("upsert remote %s/%s: %w", collection, rec.ID, err)
	}

	remoteCallTotal.WithLabelValues(string(collection), "upsert", "ok").Inc()
	remoteCallSeconds.WithLabelValues(string(collection), "upsert").Observe(time.Since(start).Seconds())
	return nil
}

func (s *Store) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == s.maxRetries {
			return err
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// upsertOutcome turns a zero-row upsert into an authorization failure: the
// ON CONFLICT guard only skips the update when the id is already held by a
// different owner, which must not pass as a successful push.
func upsertOutcome(tag pgconn.CommandTag, collection types.Collection, id types.RecordID) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remote %s/%s held by another identity: %w", collection, id, engine.ErrUnauthorized)
	}
	return nil
}

func tableFor(collection types.Collection) (string, error) {
	for _, known := range types.Collections() {
		if collection == known {
			return pgx.Identifier{string(collection)}.Sanitize(), nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", collection)
}
