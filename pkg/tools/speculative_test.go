package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClassifier map[string]bool

func (c staticClassifier) IsSafe(name string) bool { return c[name] }

func TestSpeculativeSkipsUnsafeTools(t *testing.T) {
	s := NewSpeculative(staticClassifier{"safe_tool": true}, func(ctx context.Context, call task.ToolCall) (string, error) {
		return "ran", nil
	})
	s.OnToolCallReady(context.Background(), task.ToolCall{ID: "1", Name: "mutate_file"})
	_, ok := s.Result(task.ToolCall{ID: "1", Name: "mutate_file"})
	assert.False(t, ok)
}

func TestSpeculativeReturnsResultForSafeTool(t *testing.T) {
	s := NewSpeculative(staticClassifier{"safe_tool": true}, func(ctx context.Context, call task.ToolCall) (string, error) {
		return "ran:" + call.ID, nil
	})
	call := task.ToolCall{ID: "1", Name: "safe_tool"}
	s.OnToolCallReady(context.Background(), call)
	content, ok := s.Result(call)
	require.True(t, ok)
	assert.Equal(t, "ran:1", content)
}

func TestSpeculativeFailureBecomesSyntheticResult(t *testing.T) {
	s := NewSpeculative(staticClassifier{"safe_tool": true}, func(ctx context.Context, call task.ToolCall) (string, error) {
		return "", fmt.Errorf("network down")
	})
	call := task.ToolCall{ID: "1", Name: "safe_tool"}
	s.OnToolCallReady(context.Background(), call)
	content, ok := s.Result(call)
	require.True(t, ok)
	assert.Contains(t, content, "Error")
	assert.Contains(t, content, "network down")
}

func TestSpeculativeTimeoutBecomesSyntheticResult(t *testing.T) {
	s := NewSpeculative(staticClassifier{"safe_tool": true}, func(ctx context.Context, call task.ToolCall) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s.timeout = 20 * time.Millisecond
	call := task.ToolCall{ID: "1", Name: "safe_tool"}
	s.OnToolCallReady(context.Background(), call)
	content, ok := s.Result(call)
	require.True(t, ok)
	assert.Contains(t, content, "timed out")
}

func TestSpeculativeRespectsConcurrencyCap(t *testing.T) {
	blocker := make(chan struct{})
	s := NewSpeculative(staticClassifier{"safe_tool": true}, func(ctx context.Context, call task.ToolCall) (string, error) {
		<-blocker
		return "done", nil
	})
	s.maxConcurrent = 2

	for i := 0; i < 3; i++ {
		s.OnToolCallReady(context.Background(), task.ToolCall{ID: fmt.Sprintf("%d", i), Name: "safe_tool"})
	}
	_, startedThird := s.Result(task.ToolCall{ID: "2"})
	assert.False(t, startedThird)
	close(blocker)
}
