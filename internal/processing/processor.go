// Package processing runs analysis jobs on a fixed set of worker goroutines
// fed by a bounded channel. Producers never block: a full buffer is reported
// to the caller instead.
package processing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/analysis"
	"github.com/dharsanguruparan/settlementops/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every buffer slot is taken.
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("analysis pool is shut down")
)

// Runner is satisfied by *analysis.Service.
type Runner interface {
	Cached(ctx context.Context, id int64) (*analysis.Result, bool, error)
	Run(ctx context.Context, id int64) (*analysis.Result, error)
}

// Outcome is delivered once per submitted job.
type Outcome struct {
	Result *analysis.Result
	Err    error
}

// Job is one queued analysis.
type Job struct {
	CaseID int64
	done   chan Outcome
}

// Processor owns the queue and its workers.
type Processor struct {
	runner  Runner
	logger  *zap.Logger
	workers int
	size    int

	mu     sync.RWMutex
	queue  chan Job
	closed bool
	ctx    context.Context
	wg     sync.WaitGroup
}

type Option func(*Processor)

func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets how many jobs may wait for a worker.
func WithQueueSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.size = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a Processor with queue capacity tied to worker count unless a
// size is given.
func New(runner Runner, opts ...Option) *Processor {
	p := &Processor{
		runner:  runner,
		logger:  zap.NewNop(),
		workers: 2,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.size <= 0 {
		p.size = p.workers * 4
	}
	// A buffered channel holds that many jobs without blocking producers.
	p.queue = make(chan Job, p.size)
	return p
}

// Start launches the workers. Analyses run on ctx, not on the context of
// whoever submitted them, so a client hanging up does not abort a run.
func (p *Processor) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("pool.started", zap.Int("workers", p.workers), zap.Int("queue_size", p.size))
}

// Submit queues the case and returns a channel that receives exactly one
// Outcome.
func (p *Processor) Submit(caseID int64) (<-chan Outcome, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	job := Job{CaseID: caseID, done: make(chan Outcome, 1)}
	select {
	case p.queue <- job:
		metrics.QueueDepth.Inc()
		return job.done, nil
	default:
		p.logger.Warn("pool.queue_full", zap.Int64("case_id", caseID))
		return nil, ErrQueueFull
	}
}

// Analyze answers from the cache when it can and otherwise waits for a
// worker. Returning early because ctx ended leaves the job running.
func (p *Processor) Analyze(ctx context.Context, caseID int64) (*analysis.Result, error) {
	if res, ok, err := p.runner.Cached(ctx, caseID); err != nil || ok {
		return res, err
	}
	done, err := p.Submit(caseID)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker(n int) {
	defer p.wg.Done()
	// range over a channel ends once it is closed and drained.
	for job := range p.queue {
		metrics.QueueDepth.Dec()
		res, err := p.runner.Run(p.ctx, job.CaseID)
		if err != nil {
			p.logger.Debug("pool.job_failed", zap.Int("worker", n), zap.Int64("case_id", job.CaseID), zap.Error(err))
		}
		job.done <- Outcome{Result: res, Err: err}
	}
}
