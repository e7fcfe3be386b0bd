package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veyra/listwatch/watch"
)

// DefaultMonitorDelay spaces consecutive monitor executions in loop mode.
const DefaultMonitorDelay = 10 * time.Second

// Loop is the no-queue scheduling mode: every tick it runs all active
// monitors strictly in sequence with a fixed delay between them. Suited to
// single-process deployments where queue persistence is not configured.
type Loop struct {
	monitors watch.MonitorRepository
	executor Executor
	interval time.Duration
	delay    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewLoop creates a sequential execution loop.
func NewLoop(ctx context.Context, monitors watch.MonitorRepository, executor Executor, interval, delay time.Duration, logger *zap.SugaredLogger) *Loop {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if delay <= 0 {
		delay = DefaultMonitorDelay
	}
	loopCtx, cancel := context.WithCancel(ctx)
	return &Loop{
		monitors: monitors,
		executor: executor,
		interval: interval,
		delay:    delay,
		ctx:      loopCtx,
		cancel:   cancel,
		logger:   logger.Named("loop"),
	}
}

// Start begins the loop.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
	l.logger.Infow("Sequential loop started", "interval", l.interval, "monitor_delay", l.delay)
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
	l.logger.Infow("Sequential loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(l.ctx)
		}
	}
}

// RunOnce executes every active monitor in sequence. Failures are logged
// and never retried; the next tick simply runs the monitor again.
func (l *Loop) RunOnce(ctx context.Context) {
	monitors, err := l.monitors.ListActive(ctx)
	if err != nil {
		l.logger.Errorw("Failed to list active monitors", "error", err)
		return
	}

	for i, m := range monitors {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := l.executor.Execute(ctx, m.ID); err != nil {
			l.logger.Errorw("Monitor execution failed",
				"monitor_id", m.ID,
				"site", m.Site,
				"error", err,
			)
		}

		if i < len(monitors)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.delay):
			}
		}
	}
}
