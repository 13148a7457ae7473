package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/example/wellness-sync-engine/internal/types"
)

// SessionSource reports the currently established identity, if any. When no
// identity is present the orchestrator skips all remote work: sync becomes a
// no-op, not an error, and the local store remains the only copy.
type SessionSource interface {
	Current() (types.Identity, bool)
}

// CollectionResult is the per-collection outcome recorded in a Summary.
type CollectionResult struct {
	Collection types.Collection
	Stats      Stats
	Err        *SyncError
}

// Summary aggregates one orchestrated cycle. Err combines every collection
// failure; collections that succeeded after a failure do not erase it.
type Summary struct {
	Ran        bool
	Owner      types.Identity
	Results    []CollectionResult
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Status is the observability surface consumed by the presentation layer.
type Status struct {
	Syncing      bool
	LastSyncTime time.Time
	LastSynced   bool
	LastError    error
}

// Orchestrator sequences the collection syncers under the debounce and
// session gates. It never aborts remaining collections because an earlier
// one failed.
type Orchestrator struct {
	syncers  []*CollectionSyncer
	debounce *Debouncer
	sessions SessionSource
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	syncing  bool
	lastTime time.Time
	lastRan  bool
	lastErr  error
}

// NewOrchestrator wires the orchestrator. The syncer slice order is the
// order collections are visited.
func NewOrchestrator(syncers []*CollectionSyncer, debounce *Debouncer, sessions SessionSource, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		syncers:  syncers,
		debounce: debounce,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// RunSync performs one full cycle across all collections. force bypasses
// the cooldown unconditionally; it exists for moments where staleness is
// unacceptable, immediately after sign-in and on cold start.
func (o *Orchestrator) RunSync(ctx context.Context, force bool) Summary {
	now := o.now()

	if !o.debounce.ShouldRun(force, now) {
		syncCyclesTotal.WithLabelValues("debounced").Inc()
		o.logger.Debug().Msg("sync suppressed by cooldown")
		return Summary{StartedAt: now, FinishedAt: now}
	}

	owner, ok := o.sessions.Current()
	if !ok {
		syncCyclesTotal.WithLabelValues("no_session").Inc()
		o.logger.Debug().Msg("no identity established; sync is a no-op")
		return Summary{StartedAt: now, FinishedAt: now}
	}

	ctx, span := tracer.Start(ctx, "engine.RunSync")
	span.SetAttributes(attribute.Bool("force", force))
	defer span.End()

	o.setSyncing(true)
	defer o.setSyncing(false)

	summary := Summary{Ran: true, Owner: owner, StartedAt: now}

	for _, syncer := range o.syncers {
		stats, syncErr := syncer.Sync(ctx, owner)
		result := CollectionResult{Collection: syncer.Collection(), Stats: stats, Err: syncErr}
		summary.Results = append(summary.Results, result)
		if syncErr != nil {
			summary.Err = multierr.Append(summary.Err, syncErr)
		}
	}

	summary.FinishedAt = o.now()

	o.mu.Lock()
	o.lastTime = summary.FinishedAt
	o.lastRan = true
	o.lastErr = summary.Err
	o.mu.Unlock()

	if summary.Err != nil {
		syncCyclesTotal.WithLabelValues("error").Inc()
		o.logger.Warn().Err(summary.Err).Msg("sync cycle finished with failures")
	} else {
		syncCyclesTotal.WithLabelValues("ok").Inc()
		o.logger.Info().Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).Msg("sync cycle complete")
	}

	return summary
}

// Status returns the current observability snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Syncing:      o.syncing,
		LastSyncTime: o.lastTime,
		LastSynced:   o.lastRan,
		LastError:    o.lastErr,
	}
}

func (o *Orchestrator) setSyncing(v bool) {
	o.mu.Lock()
	o.syncing = v
	o.mu.Unlock()
	if v {
		syncInFlight.Set(1)
	} else {
		syncInFlight.Set(0)
	}
}
