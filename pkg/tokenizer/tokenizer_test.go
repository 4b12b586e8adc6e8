package tokenizer

import (
	"testing"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounterKnownAndUnknownModels(t *testing.T) {
	for _, model := range []string{"gpt-4o", "gpt-4", "gpt-3.5-turbo", "claude-3-5-sonnet"} {
		c := New(model)
		require.NotNil(t, c)
		assert.Equal(t, model, c.Model())
	}
}

func TestCountEmptyString(t *testing.T) {
	c := New("gpt-4o")
	assert.Equal(t, 0, c.Count(""))
}

func TestCountIsPositiveForText(t *testing.T) {
	c := New("gpt-4o")
	assert.Greater(t, c.Count("hello, world"), 0)
}

func TestHeuristicFallback(t *testing.T) {
	assert.Equal(t, 0, Heuristic(""))
	assert.Greater(t, Heuristic("some reasonably long piece of text"), 0)
}

func TestHeuristicMonotonic(t *testing.T) {
	short := Heuristic("abc")
	long := Heuristic("abcdefghijklmnopqrstuvwxyz")
	assert.Greater(t, long, short)
}

func TestEncodingForModelPrefixMatch(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o-mini-2024"))
	assert.Equal(t, "cl100k_base", EncodingForModel("claude-3-5-sonnet"))
}

func TestMessageTokensChargesImageFlatRate(t *testing.T) {
	c := New("gpt-4o")
	textOnly := task.Message{Role: task.RoleUser, Text: "describe this"}
	withImage := task.Message{
		Role:  task.RoleUser,
		Text:  "describe this",
		Parts: []task.ContentPart{{ImageRef: "img://1", IsImagePart: true}},
	}
	assert.Greater(t, c.MessageTokens(withImage), c.MessageTokens(textOnly)+400)
}

func TestMessageTokensChargesToolCallOverhead(t *testing.T) {
	c := New("gpt-4o")
	plain := task.Message{Role: task.RoleAssistant}
	withCall := task.Message{
		Role: task.RoleAssistant,
		ToolCalls: []task.ToolCall{
			{ID: "1", Name: "fetch_url", Arguments: `{"url":"https://example.com"}`},
		},
	}
	assert.Greater(t, c.MessageTokens(withCall), c.MessageTokens(plain))
}

func TestConversationTokensMonotonic(t *testing.T) {
	c := New("gpt-4o")
	base := []task.Message{{Role: task.RoleSystem, Text: "You are helpful."}}
	more := append(append([]task.Message{}, base...), task.Message{Role: task.RoleUser, Text: "Hi"})
	assert.Greater(t, c.ConversationTokens(more), c.ConversationTokens(base))
}

func TestConversationTokensChargesReplyPriming(t *testing.T) {
	c := New("gpt-4o")
	assert.Equal(t, overheadReplyPrime, c.ConversationTokens(nil))
}
