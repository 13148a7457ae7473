package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/wellness-sync-engine/internal/broadcast"
	"github.com/example/wellness-sync-engine/internal/config"
	"github.com/example/wellness-sync-engine/internal/gateway"
	"github.com/example/wellness-sync-engine/internal/observability"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName+"-notifyd").Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName + "-notifyd",
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis is unreachable")
	}

	// The upstream auth proxy has already validated the bearer token; the
	// gateway only needs the resolved owner and device.
	auth := gateway.AuthFunc(func(r *http.Request) (gateway.DeviceIdentity, error) {
		return gateway.DeviceIdentity{
			Owner:    r.URL.Query().Get("owner"),
			DeviceID: r.URL.Query().Get("device_id"),
		}, nil
	})

	gw, err := gateway.New(auth, logger, gateway.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build gateway")
	}

	subscriber := broadcast.NewSubscriber(redisClient, gw, logger)
	subscriber.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/notify", gw)
	httpServer := &http.Server{Addr: cfg.NotifyListenAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.NotifyListenAddr).Msg("notify server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("notify server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
