package tools

import (
	"testing"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/stretchr/testify/assert"
)

func TestCachePutThenGetHits(t *testing.T) {
	c := NewCache(staticClassifier{"safe_tool": true})
	call := task.ToolCall{Name: "safe_tool", Arguments: `{"a":1,"b":2}`}
	c.Put(call, "result", false)

	v, ok := c.Get(call)
	assert.True(t, ok)
	assert.Equal(t, "result", v)
}

func TestCacheNeverStoresErrors(t *testing.T) {
	c := NewCache(staticClassifier{"safe_tool": true})
	call := task.ToolCall{Name: "safe_tool", Arguments: "{}"}
	c.Put(call, "Error: boom", true)

	_, ok := c.Get(call)
	assert.False(t, ok)
}

func TestCacheNeverStoresMutatingTools(t *testing.T) {
	c := NewCache(staticClassifier{})
	call := task.ToolCall{Name: "mutate_file", Arguments: "{}"}
	c.Put(call, "done", false)

	_, ok := c.Get(call)
	assert.False(t, ok)
}

func TestCacheKeyIgnoresArgumentOrder(t *testing.T) {
	c := NewCache(staticClassifier{"safe_tool": true})
	call1 := task.ToolCall{Name: "safe_tool", Arguments: `{"a":1,"b":2}`}
	call2 := task.ToolCall{Name: "safe_tool", Arguments: `{"b":2,"a":1}`}
	c.Put(call1, "result", false)

	v, ok := c.Get(call2)
	assert.True(t, ok)
	assert.Equal(t, "result", v)
}
