package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corestack/taskorch/pkg/task"
)

const (
	defaultMaxConcurrent   = 5
	defaultSpeculativeTTL  = 30 * time.Second
)

// Executor runs a single tool call to completion, returning its content or
// an error.
type Executor func(ctx context.Context, call task.ToolCall) (string, error)

// outcome is the resolved value of one speculative execution: either the
// tool's real content, or a synthetic error-shaped result if it failed or
// timed out. A speculative failure is never propagated as a Go error —
// the caller always gets a result to hand back to the model.
type outcome struct {
	content string
	ready   chan struct{}
}

// Speculative starts safe tool calls as soon as their arguments are fully
// streamed, racing each against a timeout, so their results are often
// already available by the time the model finishes its turn.
type Speculative struct {
	classifier   classifier
	executor     Executor
	maxConcurrent int
	timeout      time.Duration

	mu      sync.Mutex
	started map[string]*outcome
	inFlight int
}

type classifier interface {
	IsSafe(name string) bool
}

// NewSpeculative builds a Speculative executor for one streaming iteration.
func NewSpeculative(c classifier, exec Executor) *Speculative {
	return &Speculative{
		classifier:    c,
		executor:      exec,
		maxConcurrent: defaultMaxConcurrent,
		timeout:       defaultSpeculativeTTL,
		started:       make(map[string]*outcome),
	}
}

// OnToolCallReady is called by the streaming parser as soon as one tool
// call's arguments are fully received. It is a no-op if the call was
// already started, the concurrency cap is reached, or the tool is not
// classified safe.
func (s *Speculative) OnToolCallReady(ctx context.Context, call task.ToolCall) {
	s.mu.Lock()
	if _, exists := s.started[call.ID]; exists {
		s.mu.Unlock()
		return
	}
	if s.inFlight >= s.maxConcurrent {
		s.mu.Unlock()
		return
	}
	if !s.classifier.IsSafe(call.Name) {
		s.mu.Unlock()
		return
	}

	o := &outcome{ready: make(chan struct{})}
	s.started[call.ID] = o
	s.inFlight++
	s.mu.Unlock()

	go s.run(ctx, call, o)
}

func (s *Speculative) run(ctx context.Context, call task.ToolCall, o *outcome) {
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		close(o.ready)
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		content, err := s.executor(runCtx, call)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- content
	}()

	select {
	case content := <-resultCh:
		o.content = content
	case err := <-errCh:
		o.content = fmt.Sprintf("Error: %s", err.Error())
	case <-runCtx.Done():
		o.content = fmt.Sprintf("Error: tool %q timed out after %s", call.Name, s.timeout)
	}
}

// Result returns the content of a speculatively-started call, blocking
// until it finishes. The second return is false if the call was never
// started (not safe, not yet seen, or concurrency-capped) — the caller
// must fall back to cache-or-execute.
func (s *Speculative) Result(call task.ToolCall) (string, bool) {
	s.mu.Lock()
	o, ok := s.started[call.ID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	<-o.ready
	return o.content, true
}
