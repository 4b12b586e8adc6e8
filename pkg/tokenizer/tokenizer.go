// Package tokenizer provides exact BPE token counting with a heuristic
// fallback, and the message-level accounting contract the rest of the
// processor relies on to stay within a model's context window.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message and per-request overhead charged by the accountant, in
// addition to the content's own token count. These mirror OpenAI's
// published chat-format overhead and are intentionally conservative:
// implementations may charge more but never less.
const (
	overheadPerMessage  = 4
	overheadPerToolCall = 12
	overheadPerImage    = 425
	overheadReplyPrime  = 3
)

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Counter counts tokens for a specific model's encoding, falling back to a
// length-based heuristic if no encoder could be constructed.
type Counter struct {
	model    string
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
	// disabled is set by New when no encoding could be loaded; Count then
	// always uses the heuristic.
	disabled bool
}

// New builds a Counter for model, reusing a process-wide encoding cache.
// It never returns an error: a model with no known encoding silently uses
// the heuristic fallback.
func New(model string) *Counter {
	encodingName := EncodingForModel(model)

	cacheMu.RLock()
	enc, ok := encodingCache[encodingName]
	cacheMu.RUnlock()
	if ok {
		return &Counter{model: model, encoding: enc}
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &Counter{model: model, disabled: true}
		}
	}

	cacheMu.Lock()
	encodingCache[encodingName] = enc
	cacheMu.Unlock()

	return &Counter{model: model, encoding: enc}
}

// Model returns the model name this counter was built for.
func (c *Counter) Model() string { return c.model }

// Count returns the exact BPE token count for text, or the heuristic
// estimate if the encoder is unavailable.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	c.mu.RLock()
	disabled := c.disabled
	enc := c.encoding
	c.mu.RUnlock()

	if disabled || enc == nil {
		return Heuristic(text)
	}

	tokens := enc.Encode(text, nil, nil)
	return len(tokens)
}

// Heuristic estimates a token count from raw length alone, for use when no
// BPE encoder is available. ceil(len/4), scaled up for symbol-dense and
// JSON-shaped text since those tokenize less efficiently than prose.
func Heuristic(text string) int {
	if text == "" {
		return 0
	}

	base := float64((len(text) + 3) / 4)

	if symbolDensity(text) > 0.20 {
		base *= 1.15
	}
	if looksLikeJSON(text) {
		base *= 1.1
	}

	return int(base + 0.5)
}

func symbolDensity(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	symbols := 0
	for _, r := range text {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ') {
			symbols++
		}
	}
	return float64(symbols) / float64(len([]rune(text)))
}

func looksLikeJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return false
	}
	return strings.Contains(trimmed, "\":")
}

// EncodingForModel maps a model alias to a tiktoken encoding name, matching
// on exact name first and then on the longest known prefix.
func EncodingForModel(model string) string {
	exact := map[string]string{
		"gpt-4":         "cl100k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-3.5-turbo": "cl100k_base",
	}
	if enc, ok := exact[model]; ok {
		return enc
	}

	bestPrefix := ""
	bestEncoding := "cl100k_base"
	for prefix, enc := range exact {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestEncoding = enc
		}
	}
	return bestEncoding
}
