package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"pengadaan/api/internal/cache"
	"pengadaan/api/internal/config"
	"pengadaan/api/internal/database"
	"pengadaan/api/internal/log"
	"pengadaan/api/internal/queue"
	"pengadaan/api/internal/repository"
	"pengadaan/api/internal/server"
	"pengadaan/api/internal/service"
	"pengadaan/api/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	permissions := service.NewPermissionService(
		repository.NewPermissionRepository(dbPool),
		repository.NewPengadaanRepository(dbPool),
		cfg.Workflow,
		logger,
	)

	if cfg.Housekeeping.MetricsAddr != "" {
		metricsServer := server.NewMetricsServer(cfg.Housekeeping.MetricsAddr, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	processor := tasks.NewProcessor(permissions, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Housekeeping.Stream,
		cfg.Housekeeping.Group,
		cfg.Housekeeping.Consumer,
		cfg.Housekeeping.ClaimInterval,
		logger,
		processor,
	)

	logger.Info().
		Str("stream", cfg.Housekeeping.Stream).
		Str("group", cfg.Housekeeping.Group).
		Msg("worker consuming")

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		return
	}
	logger.Info().Msg("worker exited cleanly")
}
