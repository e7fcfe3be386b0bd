package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veyra/listwatch/watch"
)

// DefaultTickInterval is how often due monitors are gathered.
const DefaultTickInterval = 5 * time.Minute

// Ticker periodically lists active monitors and enqueues a job for each.
// Idempotent enqueue means a monitor still queued or running from the
// previous tick is not enqueued again.
type Ticker struct {
	monitors watch.MonitorRepository
	queue    *Queue
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewTicker creates a ticker feeding the queue.
func NewTicker(ctx context.Context, monitors watch.MonitorRepository, queue *Queue, interval time.Duration, logger *zap.SugaredLogger) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		monitors: monitors,
		queue:    queue,
		interval: interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   logger.Named("ticker"),
	}
}

// Start begins the tick loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Ticker started", "interval", t.interval)
}

// Stop halts the tick loop and waits for the current tick to finish.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.Tick(t.ctx)
		}
	}
}

// Tick enqueues one job per active monitor. Exposed so loop mode and tests
// can drive scheduling without the timer.
func (t *Ticker) Tick(ctx context.Context) {
	monitors, err := t.monitors.ListActive(ctx)
	if err != nil {
		t.logger.Errorw("Failed to list active monitors", "error", err)
		return
	}

	enqueued := 0
	for _, m := range monitors {
		created, err := t.queue.Enqueue(ctx, m.ID)
		if err != nil {
			t.logger.Errorw("Failed to enqueue monitor", "monitor_id", m.ID, "error", err)
			continue
		}
		if created {
			enqueued++
		}
	}

	if enqueued > 0 {
		t.logger.Infow("Tick complete", "active_monitors", len(monitors), "enqueued", enqueued)
	} else {
		t.logger.Debugw("Tick complete, nothing to enqueue", "active_monitors", len(monitors))
	}
}
