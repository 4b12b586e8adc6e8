package context

import (
	"testing"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/corestack/taskorch/pkg/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompressor() *Compressor {
	return New(tokenizer.New("gpt-4o"))
}

func TestCompressReturnsUnchangedWhenUnderBudget(t *testing.T) {
	c := newCompressor()
	msgs := []task.Message{
		{Role: task.RoleSystem, Text: "You are helpful."},
		{Role: task.RoleUser, Text: "Hi"},
	}
	out := c.Compress(msgs, 100000, 6)
	assert.Equal(t, msgs, out)
}

func TestCompressReturnsUnchangedWhenShort(t *testing.T) {
	c := newCompressor()
	msgs := make([]task.Message, 0)
	for i := 0; i < 5; i++ {
		msgs = append(msgs, task.Message{Role: task.RoleUser, Text: "hello there, a reasonably sized message to push tokens up"})
	}
	out := c.Compress(msgs, 1, 6)
	assert.Equal(t, msgs, out)
}

func bigConversation(n int) []task.Message {
	msgs := []task.Message{
		{Role: task.RoleSystem, Text: "You are a helpful coding assistant operating over a large repository."},
		{Role: task.RoleUser, Text: "Please investigate the failing build and fix it."},
	}
	for i := 0; i < n; i++ {
		callID := "call-" + string(rune('a'+i%26))
		msgs = append(msgs, task.Message{
			Role: task.RoleAssistant,
			ToolCalls: []task.ToolCall{
				{ID: callID, Name: "github_read_file", Arguments: `{"path":"pkg/file` + string(rune('a'+i%26)) + `.go"}`},
			},
		})
		msgs = append(msgs, task.Message{
			Role:       task.RoleTool,
			ToolCallID: callID,
			Text:       "some moderately long file content that contributes meaningfully to the token budget here",
		})
	}
	msgs = append(msgs, task.Message{Role: task.RoleUser, Text: "What did you find?"})
	return msgs
}

func TestCompressPreservesToolCallPairing(t *testing.T) {
	c := newCompressor()
	msgs := bigConversation(40)
	out := c.Compress(msgs, 400, 6)

	toolCallIDs := make(map[string]bool)
	for _, m := range out {
		if m.Role == task.RoleAssistant {
			for _, tc := range m.ToolCalls {
				toolCallIDs[tc.ID] = true
			}
		}
	}
	for _, m := range out {
		if m.Role == task.RoleTool && m.ToolCallID != "" {
			assert.True(t, toolCallIDs[m.ToolCallID], "orphaned tool result for %s", m.ToolCallID)
		}
	}
}

func TestCompressKeepsSystemAndOriginalUser(t *testing.T) {
	c := newCompressor()
	msgs := bigConversation(40)
	out := c.Compress(msgs, 400, 6)

	require.NotEmpty(t, out)
	assert.Equal(t, msgs[0], out[0])
	assert.Equal(t, msgs[1], out[1])
}

func TestCompressNeverGrowsBeyondInputPlusSummary(t *testing.T) {
	c := newCompressor()
	msgs := bigConversation(40)
	out := c.Compress(msgs, 400, 6)
	assert.LessOrEqual(t, len(out), len(msgs)+1)
}

func TestCompressEmptyInput(t *testing.T) {
	c := newCompressor()
	out := c.Compress(nil, 100, 6)
	assert.Empty(t, out)
}

func TestStatReportsUtilization(t *testing.T) {
	c := newCompressor()
	msgs := []task.Message{{Role: task.RoleUser, Text: "hi"}}
	stats := c.Stat(msgs, 1000)
	assert.Equal(t, 1, stats.MessageCount)
	assert.False(t, stats.NeedsReduction)
	assert.Greater(t, stats.TokenCount, 0)
}
