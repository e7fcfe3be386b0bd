package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veyra/listwatch/errors"
	lwtest "github.com/veyra/listwatch/internal/testing"
	"github.com/veyra/listwatch/watch"
)

func TestLoopRunOnceExecutesSequentially(t *testing.T) {
	ctx := context.Background()
	db := lwtest.CreateTestDB(t)
	monitors := watch.NewMonitorStore(db)
	exec := &fakeExecutor{}

	seedMonitors(t, monitors, map[string]bool{"m-1": true, "m-2": true})

	loop := NewLoop(ctx, monitors, exec, time.Minute, time.Millisecond, zaptest.NewLogger(t).Sugar())
	loop.RunOnce(ctx)

	assert.ElementsMatch(t, []string{"m-1", "m-2"}, exec.executions())
}

func TestLoopContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	db := lwtest.CreateTestDB(t)
	monitors := watch.NewMonitorStore(db)
	exec := &fakeExecutor{
		failures: map[string]int{"m-1": 1, "m-2": 1},
		failErr:  errors.New("site unreachable"),
	}

	seedMonitors(t, monitors, map[string]bool{"m-1": true, "m-2": true})

	loop := NewLoop(ctx, monitors, exec, time.Minute, time.Millisecond, zaptest.NewLogger(t).Sugar())
	loop.RunOnce(ctx)

	// Both monitors were attempted despite every execution failing.
	assert.Len(t, exec.executions(), 2)
}

func TestLoopStopsMidPassOnCancel(t *testing.T) {
	db := lwtest.CreateTestDB(t)
	monitors := watch.NewMonitorStore(db)
	exec := &fakeExecutor{}

	seedMonitors(t, monitors, map[string]bool{"m-1": true, "m-2": true, "m-3": true})

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(ctx, monitors, exec, time.Minute, 50*time.Millisecond, zaptest.NewLogger(t).Sugar())

	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()
	loop.RunOnce(ctx)

	executed := exec.executions()
	require.NotEmpty(t, executed)
	assert.Less(t, len(executed), 3, "cancellation interrupts the pass")
}
