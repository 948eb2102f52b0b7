// Package coordinator implements the process-wide admission control that
// every engine.File shares: a budget on resident RAM blocks, a bounded
// write-back worker pool, and a periodic prefetch tick over every
// registered file. It is the concrete engine.Coordinator.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meigma/blockcache/block"
	"github.com/meigma/blockcache/config"
	"github.com/meigma/blockcache/engine"
	"github.com/meigma/blockcache/scheduler"
)

// Coordinator grants RAM-block permits, runs write-back tasks through a
// bounded pool, and periodically advances prefetch on every registered
// File.
type Coordinator struct {
	cfg    *config.Config
	logger *slog.Logger
	sched  scheduler.Scheduler

	ram chan struct{} // buffered semaphore; one token per RAM-block permit

	mu         sync.Mutex
	prefetch   map[*engine.File]struct{}
	tickCancel context.CancelFunc
	tickWG     sync.WaitGroup

	metrics *metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for write-back failures and prefetch
// tick diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithScheduler overrides the Scheduler used to run write-back workers.
// Defaults to a dedicated scheduler.Pool sized off cfg.WritingSlotsMax.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(c *Coordinator) { c.sched = s }
}

// New builds a Coordinator from cfg and starts its write-back workers.
// Callers must call Start to begin the periodic prefetch tick, and
// Close to drain the write-back pool on shutdown.
func New(cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		ram:      make(chan struct{}, cfg.RAMBlockBudget),
		prefetch: make(map[*engine.File]struct{}),
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.sched == nil {
		c.sched = scheduler.NewPool(writeBackWorkers(cfg.WritingSlotsMax), cfg.WritingSlotsMax)
	}
	for i := 0; i < cfg.RAMBlockBudget; i++ {
		c.ram <- struct{}{}
	}
	c.metrics.ramBlocksFree.Set(float64(cfg.RAMBlockBudget))

	return c
}

func writeBackWorkers(writingSlotsMax int) int {
	if writingSlotsMax < 4 {
		return 1
	}
	return writingSlotsMax / 4
}

// RequestRAMBlock implements engine.Coordinator.
func (c *Coordinator) RequestRAMBlock() bool {
	select {
	case <-c.ram:
		c.metrics.ramBlocksFree.Dec()
		return true
	default:
		c.metrics.ramBlockDenials.Inc()
		return false
	}
}

// ReleaseRAMBlock implements engine.Coordinator.
func (c *Coordinator) ReleaseRAMBlock() {
	c.metrics.ramBlocksFree.Inc()
	c.ram <- struct{}{}
}

// AddWriteTask implements engine.Coordinator. It hands b to the
// write-back pool; Schedule blocks once the pool's queue reaches
// cfg.WritingSlotsMax entries, which is itself the writing-slot budget.
// There is no separate semaphore for it.
func (c *Coordinator) AddWriteTask(f *engine.File, b *block.Block) {
	c.metrics.writeQueueDepth.Inc()
	c.sched.Schedule(scheduler.JobFunc(func() {
		c.metrics.writeQueueDepth.Dec()
		if err := f.WriteBlockToDisk(b); err != nil {
			c.metrics.writeBackFailures.Inc()
			c.logger.Warn("coordinator: write-back failed", "err", err)
			f.BlockRemovedFromWriteQ(b)
			return
		}
		c.metrics.writeBackTotal.Inc()
	}))
}

// RegisterPrefetchFile implements engine.Coordinator.
func (c *Coordinator) RegisterPrefetchFile(f *engine.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch[f] = struct{}{}
	c.metrics.prefetchFiles.Set(float64(len(c.prefetch)))
}

// DeregisterPrefetchFile implements engine.Coordinator.
func (c *Coordinator) DeregisterPrefetchFile(f *engine.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prefetch, f)
	c.metrics.prefetchFiles.Set(float64(len(c.prefetch)))
}

// Start begins the periodic prefetch tick, advancing every registered
// file's prefetch state once per interval until Close stops it.
func (c *Coordinator) Start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.tickCancel = cancel
	c.tickWG.Add(1)
	go c.tickLoop(ctx, interval)
}

func (c *Coordinator) tickLoop(ctx context.Context, interval time.Duration) {
	defer c.tickWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick snapshots the registered set and advances each file's prefetch by
// one block. Files are visited in map iteration order, which already
// biases rotation away from starving any one file across ticks; there is
// no further weighting by how close a file is to completion.
func (c *Coordinator) tick() {
	c.mu.Lock()
	files := make([]*engine.File, 0, len(c.prefetch))
	for f := range c.prefetch {
		files = append(files, f)
	}
	c.mu.Unlock()

	for _, f := range files {
		f.Prefetch()
	}
}

// Close stops the prefetch tick and, if the write-back pool is the
// default scheduler.Pool, closes it and waits for every already-queued
// task to finish. A caller-supplied scheduler (via WithScheduler) is left
// running; its owner is responsible for draining it.
func (c *Coordinator) Close() {
	if c.tickCancel != nil {
		c.tickCancel()
		c.tickWG.Wait()
	}
	if p, ok := c.sched.(*scheduler.Pool); ok {
		p.Close()
	}
}
