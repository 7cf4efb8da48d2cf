// Command worker consumes analysis tasks from Redis. It shares the database
// and document store with the API server.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/app"
	"github.com/dharsanguruparan/settlementops/internal/config"
	"github.com/dharsanguruparan/settlementops/internal/logging"
	"github.com/dharsanguruparan/settlementops/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if !cfg.QueueEnabled() {
		return errors.New("REDIS_ADDR is required to run the worker")
	}
	if cfg.DatabaseDriver == config.DriverMemory {
		return errors.New("the worker needs a shared database; the memory driver is process local")
	}

	repo, closeRepo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	store, err := app.OpenDocumentStore(ctx, cfg)
	if err != nil {
		return err
	}
	provider, closeProvider, err := app.NewProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()
	svc, err := app.NewAnalysisService(cfg, repo, store, provider, logger)
	if err != nil {
		return err
	}

	server := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.Workers,
		Logger:      logger.Sugar(),
	})
	processor := worker.NewProcessor(svc, logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker.starting", zap.Int("concurrency", cfg.Workers))
	return server.Run(processor.Handler())
}
