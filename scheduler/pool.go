package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded worker-pool Scheduler, the in-repo default
// implementation of the Scheduler collaborator. It is grounded on
// core/internal/batch.Processor's pipelined-group pattern: a fixed set of
// worker goroutines managed by an errgroup.Group, pulling from a shared
// channel, with bounded queuing via the channel's buffer rather than an
// explicit semaphore (jobs are already unit work, not byte-weighted).
type Pool struct {
	jobs   chan Job
	eg     *errgroup.Group
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the logger used for dropped or panicking jobs.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool starts a Pool with the given number of workers and a queue depth
// of queueDepth pending jobs. workers and queueDepth are both clamped to at
// least 1.
func NewPool(workers, queueDepth int, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		jobs:   make(chan Job, queueDepth),
		eg:     eg,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	for range workers {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-p.jobs:
					if !ok {
						return nil
					}
					p.run(job)
				}
			}
		})
	}
	return p
}

func (p *Pool) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log().Error("scheduler: job panicked", "recover", r)
		}
	}()
	job.DoIt()
}

// Schedule enqueues job for execution on a worker. Schedule blocks if the
// queue is full; callers must not call Schedule while holding a file's
// locks: no operation should block on I/O, or on another collaborator,
// while holding a lock.
func (p *Pool) Schedule(job Job) {
	p.jobs <- job
}

// Close stops accepting new jobs and waits for in-flight jobs to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	_ = p.eg.Wait()
}
