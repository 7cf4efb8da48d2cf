// Package app builds the collaborators shared by the server, worker and CLI
// binaries from a loaded Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/analysis"
	"github.com/dharsanguruparan/settlementops/internal/config"
	"github.com/dharsanguruparan/settlementops/internal/database"
	"github.com/dharsanguruparan/settlementops/internal/llm"
	"github.com/dharsanguruparan/settlementops/internal/repository"
	"github.com/dharsanguruparan/settlementops/internal/storage"
)

// OpenRepository connects the configured database, creates the schema when
// missing and returns the repository with a function that releases it.
func OpenRepository(ctx context.Context, cfg *config.Config) (repository.CaseRepository, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		return repository.NewMemory(), func() {}, nil
	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repository.NewPostgres(pool), pool.Close, nil
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repository.NewSQLite(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// OpenDocumentStore returns the configured document store. MinIO buckets are
// created on first use.
func OpenDocumentStore(ctx context.Context, cfg *config.Config) (storage.DocumentStore, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		return storage.NewLocal(cfg.UploadDir)
	case config.StorageMinIO:
		store, err := storage.NewMinIO(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// NewProvider returns the configured model client and a function that
// releases it.
func NewProvider(ctx context.Context, cfg *config.Config) (llm.Provider, func(), error) {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.Model), func() {}, nil
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// NewAnalysisService applies the analysis settings from cfg.
func NewAnalysisService(cfg *config.Config, repo repository.CaseRepository, store storage.DocumentStore, provider llm.Provider, logger *zap.Logger) (*analysis.Service, error) {
	return analysis.New(repo, store, provider,
		analysis.WithTimeout(cfg.AnalysisTimeout),
		analysis.WithStaleAfter(cfg.AnalysisStaleAfter),
		analysis.WithMaxTokens(cfg.MaxTokens),
		analysis.WithLogger(logger),
	)
}

// RedisOpt is the asynq connection shared by the API enqueuer and the worker.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
