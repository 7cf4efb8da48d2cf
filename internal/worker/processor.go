// Package worker consumes case:analyze tasks from Redis.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/analysis"
	"github.com/dharsanguruparan/settlementops/internal/queue"
	"github.com/dharsanguruparan/settlementops/internal/repository"
)

// Runner is satisfied by *analysis.Service.
type Runner interface {
	Run(ctx context.Context, id int64) (*analysis.Result, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner Runner
	logger *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{runner: runner, logger: logger}
}

// Handler registers the analyze job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.AnalyzeCaseTask, p.HandleAnalyze)
	return mux
}

// HandleAnalyze runs one analysis. Analysis failures are already recorded on
// the case and are not retried; only infrastructure errors go back to asynq.
func (p *Processor) HandleAnalyze(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseAnalyzePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger := p.logger.With(zap.Int64("case_id", payload.CaseID))

	res, err := p.runner.Run(ctx, payload.CaseID)
	var failed *analysis.FailedError
	switch {
	case err == nil:
		logger.Info("task.analyze.done", zap.Bool("cached", res.Cached))
		return nil
	case errors.Is(err, analysis.ErrInProgress):
		logger.Info("task.analyze.in_progress")
		return nil
	case errors.Is(err, repository.ErrNotFound):
		logger.Warn("task.analyze.case_missing")
		return fmt.Errorf("case %d: %w", payload.CaseID, asynq.SkipRetry)
	case errors.As(err, &failed):
		logger.Warn("task.analyze.failed", zap.String("reason", failed.Message))
		return fmt.Errorf("%s: %w", failed.Message, asynq.SkipRetry)
	default:
		logger.Error("task.analyze.error", zap.Error(err))
		return err
	}
}
