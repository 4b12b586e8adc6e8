package tools

import (
	"context"

	"github.com/corestack/taskorch/pkg/task"
)

// Runner adapts a Dispatcher to task.ToolRunner. It always declares the
// batch parallel-capable; Dispatch itself downgrades to sequential
// whenever any call in the batch is unsafe, so this never bypasses the
// registry's own safety routing.
type Runner struct {
	dispatcher *Dispatcher
}

// NewRunner wraps dispatcher as a task.ToolRunner.
func NewRunner(dispatcher *Dispatcher) *Runner {
	return &Runner{dispatcher: dispatcher}
}

// Run implements task.ToolRunner.
func (r *Runner) Run(ctx context.Context, calls []task.ToolCall) []task.Message {
	return r.dispatcher.Dispatch(ctx, calls, true)
}

// NewSpeculativeHandle implements task.SpeculativeToolRunner: it builds a
// Speculative scoped to one model turn, backed directly by the registry
// (bypassing the dispatcher's own cache/safety routing, which still
// applies when RunSpeculative later reconciles results into messages).
func (r *Runner) NewSpeculativeHandle() task.SpeculativeHandle {
	return NewSpeculative(r.dispatcher.registry, r.dispatcher.directExecutor())
}

// RunSpeculative implements task.SpeculativeToolRunner: calls already
// started via handle resolve from their in-flight result; the rest run
// through the normal Dispatch path.
func (r *Runner) RunSpeculative(ctx context.Context, calls []task.ToolCall, handle task.SpeculativeHandle) []task.Message {
	spec, _ := handle.(*Speculative)
	return r.dispatcher.DispatchSpeculative(ctx, calls, true, spec)
}
