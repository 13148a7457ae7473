package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/wellness-sync-engine/internal/backup"
	"github.com/example/wellness-sync-engine/internal/broadcast"
	"github.com/example/wellness-sync-engine/internal/config"
	"github.com/example/wellness-sync-engine/internal/engine"
	"github.com/example/wellness-sync-engine/internal/observability"
	"github.com/example/wellness-sync-engine/internal/remotestore"
	"github.com/example/wellness-sync-engine/internal/session"
	"github.com/example/wellness-sync-engine/internal/trigger"
	"github.com/example/wellness-sync-engine/internal/types"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Str("device", cfg.DeviceID).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	remote := remotestore.New(resources.Postgres, logger,
		remotestore.WithCallTimeout(cfg.RemoteCallTimeout))
	if err := remote.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure remote schema")
	}

	// Rehydrate a reinstalled device from a previous backup before the
	// first sync cycle runs.
	if cfg.RestoreObject != "" {
		payload, err := backup.Fetch(ctx, resources.Object, cfg.ObjectBucket, cfg.RestoreObject)
		if err != nil {
			logger.Fatal().Err(err).Str("object", cfg.RestoreObject).Msg("failed to fetch backup")
		}
		if err := backup.Restore(ctx, resources.Local, payload); err != nil {
			logger.Fatal().Err(err).Str("object", cfg.RestoreObject).Msg("failed to restore backup")
		}
		logger.Info().Str("object", cfg.RestoreObject).Str("owner", string(payload.Owner)).Msg("local store rehydrated from backup")
	}

	sessions := session.NewManager(resources.Local, logger)
	publisher := broadcast.NewPublisher(resources.Redis, cfg.DeviceID, logger)

	syncers := make([]*engine.CollectionSyncer, 0, len(types.Collections()))
	for _, collection := range types.Collections() {
		syncers = append(syncers, engine.NewCollectionSyncer(collection, resources.Local, remote, publisher, logger))
	}

	orchestrator := engine.NewOrchestrator(syncers, engine.NewDebouncer(cfg.SyncCooldown), sessions, logger)

	backupWorker := backup.NewWorker(resources.Local, sessions, resources.Object, cfg.ObjectBucket, logger)
	backupWorker.Start(ctx)

	events := make(chan trigger.Event, 1)

	// The identity itself comes from the platform's auth provider; the
	// agent only needs the resolved principal.
	if owner := os.Getenv("OWNER_IDENTITY"); owner != "" {
		if err := sessions.SignIn(types.Identity(owner)); err != nil {
			logger.Fatal().Err(err).Msg("failed to establish session")
		}
		events <- trigger.ColdStart

		listener, err := trigger.NewListener(cfg.NotifyAddr, owner, cfg.DeviceID, events, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build notify listener")
		}
		listener.Start(ctx)
	} else {
		logger.Warn().Msg("no identity configured; running local-only")
	}

	go healthcheckLoop(ctx, resources, logger)
	go periodicLoop(ctx, events, cfg.SyncInterval)

	logger.Info().Msg("sync agent initialized")

	for {
		select {
		case ev := <-events:
			summary := orchestrator.RunSync(ctx, ev.Force())
			if summary.Ran {
				logger.Info().Str("trigger", ev.String()).Bool("force", ev.Force()).Err(summary.Err).Msg("sync triggered")
			}
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				resources.Close()
				close(done)
			}()

			select {
			case <-done:
				logger.Info().Msg("shutdown complete")
			case <-shutdownCtx.Done():
				logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
			}
			return
		}
	}
}

func periodicLoop(ctx context.Context, events chan<- trigger.Event, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case events <- trigger.Periodic:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func healthcheckLoop(ctx context.Context, resources *config.Resources, logger zerolog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := resources.HealthCheck(context.Background()); err != nil {
				logger.Error().Err(err).Msg("dependency healthcheck failed")
			} else {
				logger.Debug().Msg("dependency healthcheck ok")
			}
		case <-ctx.Done():
			return
		}
	}
}
