// Package worker runs the background job processing pool
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/internal/queue"
	"github.com/cortex-engine/entity-core/pkg/types"
)

// JobQueue is the queue surface the pool drives. *queue.Queue satisfies
// it; tests substitute fakes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*types.Job, error)
	Complete(ctx context.Context, jobID string, result any) error
	Fail(ctx context.Context, jobID string, err error) error
	HandlerFor(jobType string) (queue.Handler, bool)
	ResetStuckJobs(ctx context.Context, threshold time.Duration) (int64, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	RecordProgress(ctx context.Context, jobID string, done, total int)
}

// Config configures the worker pool.
type Config struct {
	Concurrency        int           `yaml:"concurrency"`          // parallel pollers (default 4)
	PollInterval       time.Duration `yaml:"poll_interval"`        // sleep between empty polls (default 1s)
	MaxProcessingTime  time.Duration `yaml:"max_processing_time"`  // per-job timeout and stuck threshold (default 5m)
	StuckSweepInterval time.Duration `yaml:"stuck_sweep_interval"` // default 1m
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`     // default 1h
	CleanupAge         time.Duration `yaml:"cleanup_age"`          // finished-job retention (default 24h)
}

// DefaultConfig returns pool defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		PollInterval:       time.Second,
		MaxProcessingTime:  5 * time.Minute,
		StuckSweepInterval: time.Minute,
		CleanupInterval:    time.Hour,
		CleanupAge:         24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxProcessingTime <= 0 {
		c.MaxProcessingTime = d.MaxProcessingTime
	}
	if c.StuckSweepInterval <= 0 {
		c.StuckSweepInterval = d.StuckSweepInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.CleanupAge <= 0 {
		c.CleanupAge = d.CleanupAge
	}
	return c
}

// Stats reports pool counters since Start.
type Stats struct {
	Processed int64         `json:"processed"`
	Failed    int64         `json:"failed"`
	Active    int64         `json:"active"`
	Uptime    time.Duration `json:"uptime"`
}

// Pool polls the queue and dispatches jobs to registered handlers.
// Stop ceases polling, then waits for in-flight handlers.
type Pool struct {
	cfg     Config
	queue   JobQueue
	logger  *zap.Logger
	metrics metrics.Metrics

	mu       sync.Mutex
	started  bool
	stopping chan struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64
	startedAt time.Time
}

// New creates a worker pool over the queue.
func New(cfg Config, q JobQueue, logger *zap.Logger, m metrics.Metrics) (*Pool, error) {
	if q == nil {
		return nil, fmt.Errorf("job queue cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Pool{
		cfg:     cfg.withDefaults(),
		queue:   q,
		logger:  logger,
		metrics: m,
	}, nil
}

// Start launches the pollers and maintenance sweeps. Calling Start on
// a running pool is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true
	p.stopping = make(chan struct{})
	p.startedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	// Recover jobs orphaned by a previous crash before polling begins.
	if _, err := p.queue.ResetStuckJobs(ctx, p.cfg.MaxProcessingTime); err != nil {
		p.logger.Warn("Startup stuck-job sweep failed", zap.Error(err))
	}

	p.metrics.UpdateActiveWorkers(p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}

	p.wg.Add(1)
	go p.runMaintenance(ctx)

	p.logger.Info("Worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_interval", p.cfg.PollInterval),
	)
}

// Stop ceases polling and waits for in-flight handlers. When ctx
// expires first, handler contexts are cancelled and Stop returns the
// ctx error. Calling Stop on a stopped pool is safe.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stopping)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel() // force in-flight handlers to observe cancellation
		<-done
		err = fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	p.cancel()
	p.metrics.UpdateActiveWorkers(0)
	p.logger.Info("Worker pool stopped",
		zap.Int64("processed", p.processed.Load()),
		zap.Int64("failed", p.failed.Load()),
	)
	return err
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	var uptime time.Duration
	p.mu.Lock()
	if p.started {
		uptime = time.Since(p.startedAt)
	}
	p.mu.Unlock()

	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Active:    p.active.Load(),
		Uptime:    uptime,
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopping:
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Error("Dequeue failed", zap.Int("worker", id), zap.Error(err))
			p.sleep(p.cfg.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(p.cfg.PollInterval)
			continue
		}

		p.processJob(ctx, id, job)
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *types.Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	handler, ok := p.queue.HandlerFor(job.Type)
	if !ok {
		p.failed.Add(1)
		p.metrics.RecordJob("failed", 0)
		if err := p.queue.Fail(ctx, job.ID, fmt.Errorf("no handler registered for job type %q", job.Type)); err != nil {
			p.logger.Error("Failed to fail job without handler",
				zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxProcessingTime)
	defer cancel()

	progress := func(done, total int) {
		p.queue.RecordProgress(jobCtx, job.ID, done, total)
	}

	start := time.Now()
	err := handler.Process(jobCtx, job.ID, job.Data, progress)
	duration := time.Since(start)

	if err != nil {
		p.failed.Add(1)
		p.metrics.RecordJob("failed", duration)
		p.logger.Warn("Job handler failed",
			zap.Int("worker", workerID),
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Error(err),
		)
		if failErr := p.queue.Fail(ctx, job.ID, err); failErr != nil {
			p.logger.Error("Failed to record job failure",
				zap.String("job_id", job.ID), zap.Error(failErr))
		}
		if hook, ok := handler.(queue.ErrorHook); ok {
			hook.OnError(ctx, job.ID, err)
		}
		return
	}

	p.processed.Add(1)
	p.metrics.RecordJob("completed", duration)
	if err := p.queue.Complete(ctx, job.ID, nil); err != nil {
		p.logger.Error("Failed to complete job",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

// runMaintenance periodically resets stuck jobs and garbage-collects
// finished ones.
func (p *Pool) runMaintenance(ctx context.Context) {
	defer p.wg.Done()

	stuck := time.NewTicker(p.cfg.StuckSweepInterval)
	defer stuck.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-p.stopping:
			return
		case <-stuck.C:
			if _, err := p.queue.ResetStuckJobs(ctx, p.cfg.MaxProcessingTime); err != nil {
				p.logger.Warn("Stuck-job sweep failed", zap.Error(err))
			}
		case <-cleanup.C:
			if _, err := p.queue.Cleanup(ctx, p.cfg.CleanupAge); err != nil {
				p.logger.Warn("Job cleanup failed", zap.Error(err))
			}
		}
	}
}

// sleep waits for the interval or until the pool begins stopping.
func (p *Pool) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.stopping:
	case <-timer.C:
	}
}
