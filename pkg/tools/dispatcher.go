package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corestack/taskorch/pkg/task"
)

const (
	resultBudgetFraction = 0.20
	charsPerToken        = 4
	absoluteResultCeiling = 8000
)

// Dispatcher executes a batch of tool calls, choosing the parallel or
// sequential path, applying speculative/cache short-circuits, and
// batch-aware result truncation.
type Dispatcher struct {
	registry   *Registry
	cache      *Cache
	maxContext int
}

// NewDispatcher builds a dispatcher for one iteration's tool-call batch.
func NewDispatcher(registry *Registry, cache *Cache, maxContext int) *Dispatcher {
	return &Dispatcher{registry: registry, cache: cache, maxContext: maxContext}
}

// Dispatch executes every call in the batch and returns tool-role messages
// aligned to the input order. parallelAllowed reflects the model's
// declared capability; it is only honored when every call in the batch is
// also safe.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []task.ToolCall, parallelAllowed bool) []task.Message {
	return d.dispatch(ctx, calls, parallelAllowed, nil)
}

// DispatchSpeculative is Dispatch plus a Speculative instance scoped to
// this single batch: any call already started by the caller's earlier
// OnToolCallReady notifications resolves from its in-flight result
// instead of running again. Passing spec per call, rather than storing it
// on the Dispatcher, keeps the shared Dispatcher safe for concurrent
// tasks each running their own speculative iteration.
func (d *Dispatcher) DispatchSpeculative(ctx context.Context, calls []task.ToolCall, parallelAllowed bool, spec *Speculative) []task.Message {
	return d.dispatch(ctx, calls, parallelAllowed, spec)
}

func (d *Dispatcher) dispatch(ctx context.Context, calls []task.ToolCall, parallelAllowed bool, spec *Speculative) []task.Message {
	budget := d.resultBudget(len(calls))

	allSafe := true
	for _, c := range calls {
		if !d.registry.IsSafe(c.Name) {
			allSafe = false
			break
		}
	}

	var contents []string
	if parallelAllowed && allSafe && len(calls) > 1 {
		contents = d.dispatchParallel(ctx, calls, spec)
	} else {
		contents = d.dispatchSequential(ctx, calls, spec)
	}

	messages := make([]task.Message, len(calls))
	for i, call := range calls {
		messages[i] = task.Message{
			Role:       task.RoleTool,
			ToolCallID: call.ID,
			Text:       truncateResult(contents[i], budget),
		}
	}
	return messages
}

func (d *Dispatcher) dispatchSequential(ctx context.Context, calls []task.ToolCall, spec *Speculative) []string {
	out := make([]string, len(calls))
	for i, call := range calls {
		out[i] = d.resolveOne(ctx, call, spec)
	}
	return out
}

func (d *Dispatcher) dispatchParallel(ctx context.Context, calls []task.ToolCall, spec *Speculative) []string {
	out := make([]string, len(calls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			// At-least-attempted semantics: a peer's failure must never
			// cancel this call, so errors never propagate through g.
			content := d.resolveOne(gctx, call, spec)
			mu.Lock()
			out[i] = content
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) resolveOne(ctx context.Context, call task.ToolCall, spec *Speculative) string {
	if spec != nil {
		if content, ok := spec.Result(call); ok {
			d.cache.Put(call, content, isErrorContent(content))
			return content
		}
	}

	if content, ok := d.cache.Get(call); ok {
		return content
	}

	entry, ok := d.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: tool not found: %s", call.Name)
	}

	args := decodeArgs(call.Arguments)
	result, err := entry.Tool.Call(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}

	content := renderResult(result)
	d.cache.Put(call, content, false)
	return content
}

// directExecutor invokes a registered tool without consulting the cache
// or an in-flight speculative result, for use as the Speculative
// executor's own backing call.
func (d *Dispatcher) directExecutor() Executor {
	return func(ctx context.Context, call task.ToolCall) (string, error) {
		entry, ok := d.registry.Get(call.Name)
		if !ok {
			return "", fmt.Errorf("tool not found: %s", call.Name)
		}
		args := decodeArgs(call.Arguments)
		result, err := entry.Tool.Call(ctx, args)
		if err != nil {
			return "", err
		}
		return renderResult(result), nil
	}
}

// resultBudget returns the per-result character ceiling for a batch of
// size n: a share of the 20% of context reserved for tool results, capped
// at an absolute ceiling.
func (d *Dispatcher) resultBudget(n int) int {
	if n == 0 {
		return absoluteResultCeiling
	}
	share := int(float64(d.maxContext) * resultBudgetFraction * charsPerToken / float64(n))
	if share < absoluteResultCeiling {
		return share
	}
	return absoluteResultCeiling
}

func truncateResult(content string, budget int) string {
	if len(content) <= budget {
		return content
	}
	return fmt.Sprintf("%s... [TRUNCATED: original length %d]", content[:budget], len(content))
}

func isErrorContent(content string) bool {
	return len(content) >= 6 && content[:6] == "Error:"
}
