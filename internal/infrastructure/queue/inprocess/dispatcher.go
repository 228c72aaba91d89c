// Package inprocess runs queued jobs on a bounded goroutine pool inside the
// API process.
package inprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

const DefaultPoolSize = 4

type Dispatcher struct {
	pool      *ants.Pool
	processor ports.JobProcessor
	baseCtx   context.Context
	logger    *slog.Logger
}

// New creates a non-blocking pool: when every worker is busy Dispatch fails
// fast with ErrTemporary instead of queueing without bound.
func New(ctx context.Context, size int, processor ports.JobProcessor, logger *slog.Logger) (*Dispatcher, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("worker_job_panic", "panic", fmt.Sprint(p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Dispatcher{
		pool:      pool,
		processor: processor,
		baseCtx:   context.WithoutCancel(ctx),
		logger:    logger,
	}, nil
}

var _ ports.JobDispatcher = (*Dispatcher)(nil)

// Dispatch schedules the job. The job runs detached from the caller's
// request context.
func (d *Dispatcher) Dispatch(_ context.Context, jobID string) error {
	err := d.pool.Submit(func() {
		if err := d.processor.ProcessJob(d.baseCtx, jobID); err != nil {
			d.logger.Error("worker_job_failed", "job_id", jobID, "error", err.Error())
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		return domain.WrapError(domain.ErrTemporary, "dispatch job", errors.New("all workers are busy"))
	case errors.Is(err, ants.ErrPoolClosed):
		return domain.WrapError(domain.ErrTemporary, "dispatch job", err)
	default:
		return fmt.Errorf("dispatch job: %w", err)
	}
}

func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close stops accepting jobs and waits up to timeout for running ones.
func (d *Dispatcher) Close(timeout time.Duration) error {
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release worker pool: %w", err)
	}
	return nil
}
