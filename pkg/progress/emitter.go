package progress

import (
	"context"
	"sync"
	"time"

	"github.com/corestack/taskorch/pkg/task"
)

// DefaultThrottle is the minimum gap between two emitted updates for the
// same task, so a tool-call-heavy iteration doesn't flood the front end.
const DefaultThrottle = 15 * time.Second

// Sink is the abstract front-end boundary: anything that can accept a
// formatted status line for a task. Concrete sinks (chat edit, SSE push,
// log line) implement this.
type Sink interface {
	Send(ctx context.Context, taskID, text string) error
}

// Emitter throttles Format output per task and forwards to a Sink. A
// terminal status (task.State.IsTerminal()) always bypasses the throttle
// so the final line is never dropped.
type Emitter struct {
	sink      Sink
	throttle  time.Duration
	useColor  bool
	mu        sync.Mutex
	lastSent  map[string]time.Time
}

// NewEmitter builds an Emitter over sink with the given throttle interval.
// A zero throttle uses DefaultThrottle.
func NewEmitter(sink Sink, throttle time.Duration, useColor bool) *Emitter {
	if throttle == 0 {
		throttle = DefaultThrottle
	}
	return &Emitter{sink: sink, throttle: throttle, useColor: useColor, lastSent: make(map[string]time.Time)}
}

// Report implements task.ProgressReporter. Non-terminal updates that
// arrive within the throttle window of the last emitted update for this
// task are dropped silently.
func (e *Emitter) Report(ctx context.Context, s *task.State, note string) {
	terminal := s.IsTerminal()

	e.mu.Lock()
	last, seen := e.lastSent[s.TaskID]
	due := !seen || terminal || time.Since(last) >= e.throttle
	if due {
		e.lastSent[s.TaskID] = time.Now()
	}
	e.mu.Unlock()

	if !due {
		return
	}

	text := Format(s, note, e.useColor)
	_ = e.sink.Send(ctx, s.TaskID, text)

	if terminal {
		e.mu.Lock()
		delete(e.lastSent, s.TaskID)
		e.mu.Unlock()
	}
}
