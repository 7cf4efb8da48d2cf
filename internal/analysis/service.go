// Package analysis runs the settlement analysis lifecycle: claim the case,
// send its documents to the model, extract and validate the JSON reply and
// persist the outcome. A failed or timed-out attempt always leaves the case
// in a retryable failed state.
package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dharsanguruparan/settlementops/internal/llm"
	"github.com/dharsanguruparan/settlementops/internal/metrics"
	"github.com/dharsanguruparan/settlementops/internal/model"
	"github.com/dharsanguruparan/settlementops/internal/prompt"
	"github.com/dharsanguruparan/settlementops/internal/repository"
	"github.com/dharsanguruparan/settlementops/internal/storage"
)

// ErrInProgress is returned when another process holds the claim.
var ErrInProgress = errors.New("analysis already in progress")

// Failure messages recorded on the case when the attempt did not finish.
const (
	MessageTimedOut  = "analysis timed out"
	MessageCancelled = "analysis cancelled"
)

const (
	defaultTimeout   = 5 * time.Minute
	defaultMaxTokens = 16000
	markFailedWithin = 10 * time.Second
)

// FailedError reports an attempt that was recorded as failed on the case.
type FailedError struct {
	CaseID  int64
	Message string
	Err     error
}

func (e *FailedError) Error() string { return e.Message }

func (e *FailedError) Unwrap() error { return e.Err }

// Result is the analysis state returned to callers.
type Result struct {
	Case   *model.Case
	Cached bool
}

// Service orchestrates analysis runs.
type Service struct {
	repo       repository.CaseRepository
	store      storage.DocumentStore
	provider   llm.Provider
	validator  *Validator
	logger     *zap.Logger
	timeout    time.Duration
	staleAfter time.Duration
	maxTokens  int64
	now        func() time.Time
	group      singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every attempt, document reads included.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStaleAfter sets how old a processing claim must be before another
// attempt may take it over.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

func WithMaxTokens(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wires a Service. The stale window defaults to one minute past the
// timeout.
func New(repo repository.CaseRepository, store storage.DocumentStore, provider llm.Provider, opts ...Option) (*Service, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Service{
		repo:      repo,
		store:     store,
		provider:  provider,
		validator: validator,
		logger:    zap.NewNop(),
		timeout:   defaultTimeout,
		maxTokens: defaultMaxTokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.staleAfter <= s.timeout {
		s.staleAfter = s.timeout + time.Minute
	}
	return s, nil
}

// Cached returns the stored analysis when the case is already completed.
// The boolean is false when a run is still needed.
func (s *Service) Cached(ctx context.Context, id int64) (*Result, bool, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !c.Analyzed() {
		return nil, false, nil
	}
	metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeCached).Inc()
	return &Result{Case: c, Cached: true}, true, nil
}

// Run analyzes the case unless a cached analysis exists. Concurrent calls
// for the same case in this process share one attempt.
func (s *Service) Run(ctx context.Context, id int64) (*Result, error) {
	if res, ok, err := s.Cached(ctx, id); err != nil || ok {
		return res, err
	}
	v, err, _ := s.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return s.run(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Service) run(ctx context.Context, id int64) (*Result, error) {
	won, err := s.repo.Claim(ctx, id, s.now().Add(-s.staleAfter))
	if err != nil {
		return nil, err
	}
	if !won {
		// The other attempt may have ended between our read and the claim.
		// A completed case is served from the cache; a failed one is
		// claimable again, so the claim is retried once.
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch current.AnalysisStatus {
		case model.StatusCompleted:
			metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeCached).Inc()
			return &Result{Case: current, Cached: true}, nil
		case model.StatusFailed, model.StatusPending:
			if won, err = s.repo.Claim(ctx, id, s.now().Add(-s.staleAfter)); err != nil {
				return nil, err
			}
		}
	}
	if !won {
		metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeConflict).Inc()
		return nil, ErrInProgress
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, id, err, nil)
	}
	logger := s.logger.With(zap.Int64("case_id", id), zap.Bool("has_bid", c.HasBid()))
	logger.Info("analysis.start")
	started := time.Now()

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.analyze(actx, c)
	metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, s.fail(ctx, id, err, actx.Err())
	}
	if err := s.repo.MarkCompleted(ctx, id, result); err != nil {
		return nil, s.fail(ctx, id, fmt.Errorf("save analysis: %w", err), nil)
	}

	outcome := metrics.OutcomeCompleted
	if len(result.Issues) > 0 {
		outcome = metrics.OutcomePartial
	}
	metrics.AnalysisRuns.WithLabelValues(outcome).Inc()
	logger.Info("analysis.completed",
		zap.String("quality", outcome),
		zap.Int("issues", len(result.Issues)),
		zap.Duration("elapsed", time.Since(started)),
	)

	done, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Case: done}, nil
}

// fail records the failure on a context that outlives cancellation of the
// attempt, so the case never stays in processing.
func (s *Service) fail(ctx context.Context, id int64, cause, attemptErr error) error {
	msg := cause.Error()
	outcome := metrics.OutcomeFailed
	switch {
	case errors.Is(attemptErr, context.DeadlineExceeded):
		msg, outcome = MessageTimedOut, metrics.OutcomeTimeout
		cause = fmt.Errorf("%s: %w", MessageTimedOut, cause)
	case errors.Is(attemptErr, context.Canceled):
		msg = MessageCancelled
		cause = fmt.Errorf("%s: %w", MessageCancelled, cause)
	}
	metrics.AnalysisRuns.WithLabelValues(outcome).Inc()

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedWithin)
	defer cancel()
	if err := s.repo.MarkFailed(mctx, id, msg); err != nil {
		s.logger.Error("analysis.mark_failed", zap.Int64("case_id", id), zap.Error(err))
	}
	s.logger.Warn("analysis.failed", zap.Int64("case_id", id), zap.String("reason", msg), zap.Error(cause))
	return &FailedError{CaseID: id, Message: msg, Err: cause}
}

func (s *Service) analyze(ctx context.Context, c *model.Case) (model.AnalysisResult, error) {
	var settlement, bid string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := s.readDocument(gctx, c.Settlement, "settlement")
		settlement = data
		return err
	})
	if c.Bid != nil {
		g.Go(func() error {
			data, err := s.readDocument(gctx, *c.Bid, "bid")
			bid = data
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.AnalysisResult{}, err
	}

	var bidPart *llm.Part
	if c.Bid != nil {
		p := llm.DocumentPart(c.Bid.MediaType, bid)
		bidPart = &p
	}
	text, err := s.provider.Complete(ctx, llm.CompletionRequest{
		System:    prompt.AnalysisSystemPrompt(c.HasBid()),
		Parts:     prompt.AnalysisUserContent(llm.DocumentPart(c.Settlement.MediaType, settlement), bidPart),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return model.AnalysisResult{}, err
	}

	raw, err := ExtractJSONObject(text)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	issues, err := s.validator.Validate(raw)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	return denormalize(raw, issues), nil
}

func (s *Service) readDocument(ctx context.Context, ref model.DocumentRef, docType string) (string, error) {
	data, err := storage.ReadAll(ctx, s.store, ref.Path)
	if err != nil {
		return "", fmt.Errorf("read %s document: %w", docType, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// denormalize copies the list-view fields out of the analysis. Only string
// values are copied; anything else stays null.
func denormalize(raw json.RawMessage, issues []string) model.AnalysisResult {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)
	return model.AnalysisResult{
		JSON:           raw,
		Issues:         issues,
		CaseName:       stringField(fields, "case_name"),
		CaseNumber:     stringField(fields, "case_number"),
		Jurisdiction:   stringField(fields, "jurisdiction"),
		SettlementType: stringField(fields, "settlement_type"),
	}
}

func stringField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok || len(raw) == 0 || raw[0] != '"' {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}
