package dispatch

import (
	"context"

	"github.com/veyra/listwatch/errors"
	"github.com/veyra/listwatch/watch"
)

// Executor runs the work behind one job.
type Executor interface {
	Execute(ctx context.Context, monitorID string) error
}

// MonitorRunner is the piece of the execution engine the dispatcher needs.
// Satisfied by runner.Runner.
type MonitorRunner interface {
	Run(ctx context.Context, ectx *watch.ExecutionContext) error
}

// MonitorExecutor assembles the execution context for a monitor and hands
// it to the runner.
type MonitorExecutor struct {
	assembler watch.ContextAssembler
	runner    MonitorRunner
}

// NewMonitorExecutor creates the standard executor.
func NewMonitorExecutor(assembler watch.ContextAssembler, runner MonitorRunner) *MonitorExecutor {
	return &MonitorExecutor{assembler: assembler, runner: runner}
}

// Execute assembles and runs one monitor. A missing monitor surfaces as
// errors.ErrNotFound, which the worker treats as permanent.
func (e *MonitorExecutor) Execute(ctx context.Context, monitorID string) error {
	ectx, err := e.assembler.Assemble(ctx, monitorID)
	if err != nil {
		return errors.Wrapf(err, "assemble context for monitor %s", monitorID)
	}
	return e.runner.Run(ctx, ectx)
}
