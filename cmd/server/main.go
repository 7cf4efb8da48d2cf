// Command server runs the SettlementOps HTTP API together with the in-process
// analysis pool.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/api"
	"github.com/dharsanguruparan/settlementops/internal/app"
	"github.com/dharsanguruparan/settlementops/internal/config"
	"github.com/dharsanguruparan/settlementops/internal/export"
	"github.com/dharsanguruparan/settlementops/internal/logging"
	"github.com/dharsanguruparan/settlementops/internal/processing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
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

	// The pool outlives request contexts; it is drained after the HTTP
	// server has stopped taking requests.
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	pool := processing.New(svc,
		processing.WithWorkers(cfg.Workers),
		processing.WithQueueSize(cfg.QueueSize),
		processing.WithLogger(logger),
	)
	pool.Start(poolCtx)

	deps := api.Deps{
		Config:   cfg,
		Repo:     repo,
		Store:    store,
		Pool:     pool,
		Provider: provider,
		Exporter: export.NewService(logger),
		Logger:   logger,
	}
	if cfg.QueueEnabled() {
		client := asynq.NewClient(app.RedisOpt(cfg))
		defer client.Close()
		deps.Queue = client
		logger.Info("queue.enabled", zap.String("redis", cfg.RedisAddr))
	}

	logger.Info("server.starting",
		zap.String("db_driver", cfg.DatabaseDriver),
		zap.String("storage", cfg.StorageBackend),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("model", cfg.Model),
	)
	serveErr := api.New(deps).Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.AnalysisTimeout+10*time.Second)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		logger.Warn("pool.drain_incomplete", zap.Error(err))
	}
	return serveErr
}
