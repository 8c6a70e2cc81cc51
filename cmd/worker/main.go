package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"placement/internal/cache"
	"placement/internal/config"
	"placement/internal/database"
	"placement/internal/log"
	"placement/internal/queue"
	"placement/internal/repository"
	"placement/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

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

	processor := tasks.NewProcessor(
		repository.NewCredentialRepository(dbPool),
		repository.NewSessionRepository(dbPool),
		cfg.Queues.OrphanGrace,
		logger,
	)
	consumer := queue.NewConsumer(
		client,
		cfg.Redis.Stream,
		cfg.Redis.Group,
		cfg.Redis.Consumer,
		cfg.Queues.ClaimInterval,
		logger,
		processor,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
