package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/conflict"
	"github.com/example/wellness-sync-engine/internal/types"
)

// LocalStore is the always-writable device-side copy of one or more
// collections. Implementations serialize concurrent writes through their
// own consistency mechanism; the engine never adds locking of its own.
type LocalStore interface {
	List(ctx context.Context, collection types.Collection) ([]types.Record, error)
	Upsert(ctx context.Context, collection types.Collection, rec types.Record) error
}

// RemoteStore is the durable multi-device copy, scoped by owner identity.
// List returns only rows the identity owns; malformed rows are logged and
// skipped by the implementation rather than failing the listing.
type RemoteStore interface {
	List(ctx context.Context, collection types.Collection, owner types.Identity) ([]types.Record, error)
	Upsert(ctx context.Context, collection types.Collection, rec types.Record) error
}

// Notifier announces that this device pushed changes, so other devices of
// the same owner can wake up and pull. Best-effort: publish failures are
// logged, never surfaced as sync errors.
type Notifier interface {
	Publish(ctx context.Context, owner types.Identity, collection types.Collection) error
}

// notifyTimeout caps how long one change notice may take to publish.
const notifyTimeout = 5 * time.Second

// Stats counts what one collection cycle actually did.
type Stats struct {
	CreatedLocal  int
	CreatedRemote int
	PulledRemote  int
	PushedRemote  int
	Unchanged     int
	Failed        int
}

// CollectionSyncer reconciles exactly one collection end to end: pull both
// sides, resolve per record id, write winners back to whichever side is
// stale. All failures are caught here and converted to *SyncError values.
type CollectionSyncer struct {
	collection types.Collection
	local      LocalStore
	remote     RemoteStore
	notifier   Notifier
	logger     zerolog.Logger
}

// NewCollectionSyncer wires a syncer for the given collection. notifier may
// be nil.
func NewCollectionSyncer(collection types.Collection, local LocalStore, remote RemoteStore, notifier Notifier, logger zerolog.Logger) *CollectionSyncer {
	return &CollectionSyncer{
		collection: collection,
		local:      local,
		remote:     remote,
		notifier:   notifier,
		logger:     logger.With().Str("collection", string(collection)).Logger(),
	}
}

// Collection returns the collection this syncer owns.
func (s *CollectionSyncer) Collection() types.Collection { return s.collection }

// Sync runs one pull-resolve-push cycle for the owner. Partial success is
// acceptable: rows that already synced are not rolled back when a later row
// fails, and the first failure is reported alongside the stats.
func (s *CollectionSyncer) Sync(ctx context.Context, owner types.Identity) (Stats, *SyncError) {
	start := time.Now()
	var stats Stats

	remoteRecs, err := s.remote.List(ctx, s.collection, owner)
	if err != nil {
		return stats, s.fail(classifyRemote(err), err)
	}

	localRecs, err := s.local.List(ctx, s.collection)
	if err != nil {
		return stats, s.fail(KindLocalStorage, err)
	}

	remoteByID := make(map[types.RecordID]types.Record, len(remoteRecs))
	for _, rec := range remoteRecs {
		remoteByID[rec.ID] = rec
	}
	localByID := make(map[types.RecordID]types.Record, len(localRecs))
	for _, rec := range localRecs {
		localByID[rec.ID] = rec
	}

	ids := make(map[types.RecordID]struct{}, len(remoteByID)+len(localByID))
	for id := range remoteByID {
		ids[id] = struct{}{}
	}
	for id := range localByID {
		ids[id] = struct{}{}
	}

	var firstErr *SyncError
	pushed := false

	for id := range ids {
		local, hasLocal := localByID[id]
		remote, hasRemote := remoteByID[id]

		switch {
		case hasLocal && !hasRemote:
			if err := s.remote.Upsert(ctx, s.collection, local); err != nil {
				stats.Failed++
				firstErr = s.keepFirst(firstErr, classifyRemote(err), err)
				continue
			}
			stats.CreatedRemote++
			pushed = true

		case !hasLocal && hasRemote:
			if err := s.local.Upsert(ctx, s.collection, remote); err != nil {
				stats.Failed++
				firstErr = s.keepFirst(firstErr, KindLocalStorage, err)
				continue
			}
			stats.CreatedLocal++

		default:
			winner := conflict.Resolve(local, remote)
			if winner.EqualState(local) && winner.EqualState(remote) {
				stats.Unchanged++
				continue
			}
			if !winner.EqualState(remote) {
				if err := s.remote.Upsert(ctx, s.collection, winner); err != nil {
					stats.Failed++
					firstErr = s.keepFirst(firstErr, classifyRemote(err), err)
					continue
				}
				stats.PushedRemote++
				pushed = true
			}
			if !winner.EqualState(local) {
				if err := s.local.Upsert(ctx, s.collection, winner); err != nil {
					stats.Failed++
					firstErr = s.keepFirst(firstErr, KindLocalStorage, err)
					continue
				}
				stats.PulledRemote++
			}
		}
	}

	if pushed && s.notifier != nil {
		// Best-effort with a hard bound: the publisher retries internally,
		// and an unreachable broker must not stall the remaining
		// collections or pin the cycle.
		notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
		if err := s.notifier.Publish(notifyCtx, owner, s.collection); err != nil {
			s.logger.Warn().Err(err).Msg("change notification publish failed")
		}
		cancel()
	}

	collectionSyncSeconds.WithLabelValues(string(s.collection)).Observe(time.Since(start).Seconds())
	if firstErr != nil {
		collectionSyncTotal.WithLabelValues(string(s.collection), "error").Inc()
		return stats, firstErr
	}
	collectionSyncTotal.WithLabelValues(string(s.collection), "ok").Inc()
	s.logger.Debug().
		Int("created_local", stats.CreatedLocal).
		Int("created_remote", stats.CreatedRemote).
		Int("pulled", stats.PulledRemote).
		Int("pushed", stats.PushedRemote).
		Msg("collection cycle complete")
	return stats, nil
}

func (s *CollectionSyncer) fail(kind Kind, err error) *SyncError {
	collectionSyncTotal.WithLabelValues(string(s.collection), "error").Inc()
	syncErr := &SyncError{Collection: s.collection, Kind: kind, Err: err}
	s.logger.Error().Err(err).Str("kind", kind.String()).Msg("collection cycle failed")
	return syncErr
}

func (s *CollectionSyncer) keepFirst(existing *SyncError, kind Kind, err error) *SyncError {
	s.logger.Warn().Err(err).Str("kind", kind.String()).Msg("record sync failed; continuing")
	if existing != nil {
		return existing
	}
	return &SyncError{Collection: s.collection, Kind: kind, Err: err}
}
