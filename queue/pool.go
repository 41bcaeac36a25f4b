package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/logger"
)

// Executor is the part of execution.Service a worker needs.
type Executor interface {
	CachedResponse(ctx context.Context, req execution.Request) (*execution.Response, bool)
	ExecuteCode(ctx context.Context, req execution.Request, callerID string) (*execution.Response, error)
}

// Pool drains one queue with a fixed number of workers.
type Pool struct {
	queue       *Queue
	executor    Executor
	concurrency int
	logger      *zap.Logger
}

// NewPool creates a pool of concurrency workers over q.
func NewPool(q *Queue, executor Executor, concurrency int, logger *zap.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:       q,
		executor:    executor,
		concurrency: concurrency,
		logger:      logger.With(zap.String("queue", q.Name())),
	}
}

// Concurrency returns the number of workers.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run blocks until ctx ends or the queue closes.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			return p.work(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context) error {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	log := p.logger.With(append(logger.Code(job.Request.Code), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts))...)
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked, returning job to queue", zap.Any("panic", r), zap.Stack("stack"))
			if err := p.queue.Stall(job); err != nil {
				log.Warn("failed to stall job", zap.Error(err))
			}
		}
	}()

	// Another job with the same fingerprint may have finished first.
	if resp, hit := p.executor.CachedResponse(ctx, job.Request); hit {
		p.report(log, p.queue.Complete(job, resp))
		return
	}

	resp, err := p.executor.ExecuteCode(ctx, job.Request, job.CallerID)
	if err != nil {
		retry := apperr.Retryable(err) && ctx.Err() == nil
		p.report(log, p.queue.Fail(job, err, retry))
		return
	}
	p.report(log, p.queue.Complete(job, resp))
}

func (p *Pool) report(log *zap.Logger, err error) {
	if err != nil {
		log.Warn("job outcome discarded", zap.Error(fmt.Errorf("report to queue: %w", err)))
	}
}
