package tap

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/tap-messagebird/pkg/state"
	"github.com/Sternrassler/tap-messagebird/pkg/stream"
	"github.com/rs/zerolog"
)

// childJob is one child stream run for one parent record.
type childJob struct {
	desc stream.Descriptor
	sctx stream.SyncContext
	mark *state.Watermark
}

// childPool runs child jobs on a fixed number of workers. The first failure
// cancels the pool context, which also aborts the parent run sharing it.
type childPool struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	run    func(context.Context, childJob) error
	logger zerolog.Logger

	queue chan childJob
	wg    sync.WaitGroup

	errOnce sync.Once
	err     error

	submitted atomic.Int64
	completed atomic.Int64
}

func newChildPool(ctx context.Context, workers int, run func(context.Context, childJob) error, logger zerolog.Logger) *childPool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancelCause(ctx)
	p := &childPool{
		ctx:    ctx,
		cancel: cancel,
		run:    run,
		logger: logger,
		queue:  make(chan childJob, workers),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Context is cancelled on the first failure.
func (p *childPool) Context() context.Context {
	return p.ctx
}

// Submit blocks until a worker slot frees up or the pool is cancelled.
func (p *childPool) Submit(job childJob) error {
	select {
	case p.queue <- job:
		p.submitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return context.Cause(p.ctx)
	}
}

// Fail records err as the pool's failure unless one is already recorded.
func (p *childPool) Fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.cancel(err)
	})
}

// Wait closes the queue, waits for the workers and returns the first failure.
func (p *childPool) Wait() error {
	close(p.queue)
	p.wg.Wait()
	p.cancel(nil)
	return p.err
}

func (p *childPool) worker(workerID int) {
	defer p.wg.Done()
	processed := 0

	for job := range p.queue {
		// drain without running once cancelled
		if p.ctx.Err() != nil {
			continue
		}

		if err := p.run(p.ctx, job); err != nil {
			p.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("stream", job.desc.Name).
				Str("parent_id", job.sctx.ParentID).
				Msg("Child sync failed")
			p.Fail(err)
			continue
		}
		processed++

		if done := p.completed.Add(1); done%50 == 0 {
			p.logger.Info().
				Int64("completed", done).
				Int64("submitted", p.submitted.Load()).
				Msg("Child sync progress")
		}
	}

	if processed > 0 {
		p.logger.Debug().
			Int("worker_id", workerID).
			Int("jobs_processed", processed).
			Msg("Worker completed")
	}
}
