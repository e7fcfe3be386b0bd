package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/veyra/listwatch/errors"
)

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers       int           `json:"workers"`         // concurrent workers
	PollInterval  time.Duration `json:"poll_interval"`   // how often each worker checks for due jobs
	RatePerMinute int           `json:"rate_per_minute"` // global ceiling on job starts
	StopTimeout   time.Duration `json:"stop_timeout"`    // how long Stop waits for in-flight jobs
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:       5,
		PollInterval:  time.Second,
		RatePerMinute: 10,
		StopTimeout:   30 * time.Second,
	}
}

// WorkerPool runs queued monitor executions with bounded concurrency.
type WorkerPool struct {
	queue    *Queue
	executor Executor
	limiter  *Limiter
	cfg      WorkerPoolConfig

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu            sync.Mutex
	activeWorkers int

	logger *zap.SugaredLogger
}

// NewWorkerPool creates a worker pool over the queue.
func NewWorkerPool(ctx context.Context, queue *Queue, executor Executor, cfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultWorkerPoolConfig().StopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)
	var limiter *Limiter
	if cfg.RatePerMinute > 0 {
		limiter = NewLimiter(cfg.RatePerMinute)
	}

	return &WorkerPool{
		queue:     queue,
		executor:  executor,
		limiter:   limiter,
		cfg:       cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger.Named("dispatch"),
	}
}

// SetLimiter swaps the rate limiter (for testing with a fake clock).
func (wp *WorkerPool) SetLimiter(l *Limiter) {
	wp.limiter = l
}

// Start recovers orphaned jobs and spawns the workers.
func (wp *WorkerPool) Start() {
	select {
	case <-wp.ctx.Done():
		// Restart after a previous Stop.
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}

	if _, err := wp.queue.RecoverOrphans(wp.ctx); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.cfg.Workers)
	}

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Infow("Worker pool started",
		"workers", wp.cfg.Workers,
		"poll_interval", wp.cfg.PollInterval,
		"rate_per_minute", wp.cfg.RatePerMinute,
	)
}

// Stop stops job intake and waits for in-flight jobs up to StopTimeout.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped, all workers exited cleanly")
	case <-time.After(wp.cfg.StopTimeout):
		wp.logger.Warnw("Worker pool stop timed out with jobs still in flight",
			"timeout", wp.cfg.StopTimeout)
	}
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.cfg.Workers
}

// ActiveWorkers returns how many workers are currently executing jobs.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNext(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown.
					return
				}
				wp.logger.Errorw("Worker error", "worker_id", id, "error", err)
			}
		}
	}
}

// processNext claims the next due job and runs it to a terminal transition.
func (wp *WorkerPool) processNext() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	job, err := wp.queue.Dequeue(wp.ctx)
	if err != nil {
		return errors.Wrap(err, "dequeue job")
	}
	if job == nil {
		return nil
	}

	// Global pacing gate. A job over the limit is deferred, not failed,
	// and the deferral does not count as an attempt.
	if wp.limiter != nil {
		if err := wp.limiter.Allow(); err != nil {
			inWindow, remaining := wp.limiter.Stats()
			wp.logger.Infow("Rate limit reached, deferring job",
				"job_id", job.ID,
				"monitor_id", job.MonitorID,
				"starts_in_window", inWindow,
				"remaining", remaining,
			)
			return wp.queue.Defer(wp.ctx, job.ID, wp.cfg.PollInterval)
		}
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if err := wp.executor.Execute(wp.ctx, job.MonitorID); err != nil {
		select {
		case <-wp.ctx.Done():
			// Shutdown mid-execution: put the job back without burning
			// the attempt.
			if deferErr := wp.queue.Defer(context.Background(), job.ID, 0); deferErr != nil {
				wp.logger.Errorw("Failed to re-queue job on shutdown",
					"job_id", job.ID, "error", deferErr)
			}
			return nil
		default:
		}
		if errors.IsNotFound(err) {
			return wp.queue.FailPermanent(wp.ctx, job.ID, err)
		}
		return wp.queue.Fail(wp.ctx, job.ID, err)
	}

	return wp.queue.Complete(wp.ctx, job.ID)
}

// checkMemoryPressure estimates whether the configured worker count fits
// in available memory. Returns a warning message, or empty when fine.
func (wp *WorkerPool) checkMemoryPressure() string {
	v, err := mem.VirtualMemory()
	if err != nil {
		return ""
	}

	const memoryPerWorkerGB = 0.25 // headless scrape sessions are cheap but not free
	const memoryBufferGB = 1.0

	availableGB := float64(v.Available) / 1024 / 1024 / 1024
	totalGB := float64(v.Total) / 1024 / 1024 / 1024

	usable := availableGB - memoryBufferGB
	recommended := 1
	if usable > memoryPerWorkerGB {
		recommended = int(usable / memoryPerWorkerGB)
	}

	if wp.cfg.Workers > recommended {
		return fmt.Sprintf(
			"worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB)",
			wp.cfg.Workers, recommended, availableGB, totalGB)
	}
	return ""
}
