package tokenizer

import "github.com/corestack/taskorch/pkg/task"

// MessageTokens returns the accounted token cost of a single message:
// framing overhead, content, tool-call envelopes, image parts, and hidden
// reasoning content. This is a contract other components rely on for
// monotonicity — richer content must never cost less.
func (c *Counter) MessageTokens(m task.Message) int {
	total := overheadPerMessage

	total += c.Count(m.Text)
	for _, part := range m.Parts {
		if part.IsImagePart || part.ImageRef != "" {
			total += overheadPerImage
			continue
		}
		total += c.Count(part.Text)
	}

	for _, tc := range m.ToolCalls {
		total += overheadPerToolCall
		total += c.Count(tc.Name)
		total += c.Count(tc.Arguments)
	}

	if m.ReasoningContent != "" {
		total += c.Count(m.ReasoningContent)
	}

	return total
}

// ConversationTokens returns the accounted token cost of a full message
// list, including the fixed reply-priming overhead charged once per
// request.
func (c *Counter) ConversationTokens(messages []task.Message) int {
	total := 0
	for _, m := range messages {
		total += c.MessageTokens(m)
	}
	return total + overheadReplyPrime
}
