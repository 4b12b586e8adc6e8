// Package context implements token-budgeted compression of a running
// conversation: reducing a message history to fit a model's context window
// while preserving tool-call/result pairing and favoring recently-surfaced
// evidence over older intermediate reasoning.
//
// Stat reports utilization against a budget; Compress applies one fixed
// scoring and eviction strategy, specific to this processor's budget
// contract.
package context

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/corestack/taskorch/pkg/tokenizer"
)

const (
	defaultMinTail    = 6
	summaryReserve    = 100
	maxSummaryPaths   = 8
	maxSummarySnippet = 3
)

// Compressor reduces message lists to fit a token budget.
type Compressor struct {
	counter *tokenizer.Counter
}

// New builds a Compressor backed by the given token counter.
func New(counter *tokenizer.Counter) *Compressor {
	return &Compressor{counter: counter}
}

// Stats summarizes a message list's utilization against a budget, surfaced
// to the progress formatter and to tests.
type Stats struct {
	MessageCount   int
	TokenCount     int
	MaxTokens      int
	Utilization    float64
	NeedsReduction bool
}

// Stat computes utilization stats for messages against maxTokens.
func (c *Compressor) Stat(messages []task.Message, maxTokens int) Stats {
	tokens := c.counter.ConversationTokens(messages)
	util := 0.0
	if maxTokens > 0 {
		util = float64(tokens) / float64(maxTokens)
	}
	return Stats{
		MessageCount:   len(messages),
		TokenCount:     tokens,
		MaxTokens:      maxTokens,
		Utilization:    util,
		NeedsReduction: tokens > maxTokens,
	}
}

// Compress reduces messages to fit budget, preserving tool-call pairing and
// a minimum tail. minTail <= 0 uses the default of 6.
func (c *Compressor) Compress(messages []task.Message, budget int, minTail int) []task.Message {
	if minTail <= 0 {
		minTail = defaultMinTail
	}

	if c.counter.ConversationTokens(messages) <= budget {
		return messages
	}
	if len(messages) <= minTail+2 {
		return messages
	}

	n := len(messages)
	pairPartner := buildPairing(messages)

	alwaysKeep := c.alwaysKeepSet(messages, minTail, pairPartner)

	used := 0
	for idx := range alwaysKeep {
		used += c.counter.MessageTokens(messages[idx])
	}

	if used > budget {
		return subsequence(messages, alwaysKeep)
	}

	remaining := budget - used - summaryReserve

	type candidate struct {
		index    int
		priority float64
	}
	var candidates []candidate
	for i := 0; i < n; i++ {
		if alwaysKeep[i] {
			continue
		}
		candidates = append(candidates, candidate{index: i, priority: priorityScore(messages, i)})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].priority != candidates[b].priority {
			return candidates[a].priority > candidates[b].priority
		}
		return candidates[a].index > candidates[b].index
	})

	kept := make(map[int]bool, len(alwaysKeep))
	for idx := range alwaysKeep {
		kept[idx] = true
	}

	for _, cand := range candidates {
		if kept[cand.index] {
			continue
		}
		group := groupFor(cand.index, pairPartner, kept)
		cost := 0
		for _, idx := range group {
			cost += c.counter.MessageTokens(messages[idx])
		}
		if cost <= remaining {
			for _, idx := range group {
				kept[idx] = true
			}
			remaining -= cost
		}
	}

	evicted := make([]int, 0)
	for i := 0; i < n; i++ {
		if !kept[i] {
			evicted = append(evicted, i)
		}
	}

	summary := buildSummary(messages, evicted)

	result := make([]task.Message, 0, len(kept)+1)
	result = append(result, messages[0])
	if n > 1 {
		result = append(result, messages[1])
	}

	summaryMsg := task.Message{Role: task.RoleAssistant, Text: summary}
	summaryTokens := 0
	if summary != "" {
		summaryTokens = c.counter.MessageTokens(summaryMsg)
	}

	rest := make([]int, 0, len(kept))
	for i := 2; i < n; i++ {
		if kept[i] {
			rest = append(rest, i)
		}
	}
	sort.Ints(rest)

	// Tokens of always-keep plus every kept candidate: what the candidate
	// loop spent out of budget-used-summaryReserve, added back onto used.
	finalTokens := budget - summaryReserve - remaining
	if summary != "" && finalTokens+summaryTokens <= budget {
		result = append(result, summaryMsg)
	}
	for _, idx := range rest {
		result = append(result, messages[idx])
	}

	return result
}

// alwaysKeepSet returns the indices that must never be evicted: system at 0,
// original user at 1, a contiguous tail of at least minTail (extended
// backward past any orphan tool head), and the transitive tool-call
// partners of everything already included.
func (c *Compressor) alwaysKeepSet(messages []task.Message, minTail int, pairPartner map[int]int) map[int]bool {
	n := len(messages)
	keep := make(map[int]bool)

	if n > 0 {
		keep[0] = true
	}
	if n > 1 {
		keep[1] = true
	}

	tailStart := n - minTail
	if tailStart < 2 {
		tailStart = 2
	}
	for tailStart > 2 && messages[tailStart].Role == task.RoleTool {
		if _, ok := pairPartner[tailStart]; ok && pairPartner[tailStart] < tailStart {
			break
		}
		tailStart--
	}
	for i := tailStart; i < n; i++ {
		keep[i] = true
	}

	changed := true
	for changed {
		changed = false
		for idx := range keep {
			if partner, ok := pairPartner[idx]; ok && !keep[partner] {
				keep[partner] = true
				changed = true
			}
		}
	}

	return keep
}

// buildPairing maps each tool-result index to its tool-call-bearing
// assistant index, and each such assistant index to the last tool result
// paired with it. A tool result whose id is empty or matches no earlier
// call pairs with the nearest preceding assistant-with-tool-calls message.
func buildPairing(messages []task.Message) map[int]int {
	partner := make(map[int]int)

	callIDToAssistant := make(map[string]int)
	lastAssistantWithCalls := -1

	for i, m := range messages {
		if m.Role == task.RoleAssistant && m.HasToolCalls() {
			lastAssistantWithCalls = i
			for _, tc := range m.ToolCalls {
				callIDToAssistant[tc.ID] = i
			}
			continue
		}
		if m.Role == task.RoleTool {
			if m.ToolCallID != "" {
				if ai, ok := callIDToAssistant[m.ToolCallID]; ok {
					partner[i] = ai
					partner[ai] = i
					continue
				}
			}
			if lastAssistantWithCalls >= 0 {
				partner[i] = lastAssistantWithCalls
				partner[lastAssistantWithCalls] = i
			}
		}
	}

	return partner
}

func groupFor(index int, pairPartner map[int]int, kept map[int]bool) []int {
	group := []int{index}
	if partner, ok := pairPartner[index]; ok && !kept[partner] {
		group = append(group, partner)
	}
	return group
}

func priorityScore(messages []task.Message, index int) float64 {
	n := len(messages)
	pos := 15.0
	if n > 2 {
		pos = (float64(index) / float64(n-1)) * 30.0
	}

	m := messages[index]
	switch {
	case index == 0 && m.Role == task.RoleSystem:
		return 100
	case index == 1 && m.Role == task.RoleUser:
		return 90
	case m.Role == task.RoleTool:
		return 55 + pos
	case m.Role == task.RoleAssistant && m.HasToolCalls():
		return 35 + pos
	case m.Role == task.RoleAssistant:
		return 18 + pos
	default:
		return 25 + pos
	}
}

func subsequence(messages []task.Message, keep map[int]bool) []task.Message {
	indices := make([]int, 0, len(keep))
	for idx := range keep {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	out := make([]task.Message, 0, len(indices))
	for _, idx := range indices {
		out = append(out, messages[idx])
	}
	return out
}

func buildSummary(messages []task.Message, evicted []int) string {
	if len(evicted) == 0 {
		return ""
	}

	toolCounts := make(map[string]int)
	toolOrder := []string{}
	toolResultCount := 0
	paths := make([]string, 0, maxSummaryPaths)
	seenPaths := make(map[string]bool)
	snippets := make([]string, 0, maxSummarySnippet)

	for _, idx := range evicted {
		m := messages[idx]
		for _, tc := range m.ToolCalls {
			if toolCounts[tc.Name] == 0 {
				toolOrder = append(toolOrder, tc.Name)
			}
			toolCounts[tc.Name]++
			for _, p := range extractPaths(tc.Arguments) {
				if !seenPaths[p] && len(paths) < maxSummaryPaths {
					seenPaths[p] = true
					paths = append(paths, p)
				}
			}
		}
		if m.Role == task.RoleTool {
			toolResultCount++
		}
		if m.Role == task.RoleAssistant && m.Text != "" && len(snippets) < maxSummarySnippet {
			snippets = append(snippets, truncate(m.Text, 80))
		}
	}

	if len(toolOrder) == 0 && toolResultCount == 0 && len(paths) == 0 && len(snippets) == 0 {
		return fmt.Sprintf("[Context summary: %d earlier messages summarized]", len(evicted))
	}

	var b strings.Builder
	b.WriteString("[Context summary: ")

	parts := []string{}
	if len(toolOrder) > 0 {
		toolParts := make([]string, 0, len(toolOrder))
		for _, name := range toolOrder {
			count := toolCounts[name]
			if count > 1 {
				toolParts = append(toolParts, fmt.Sprintf("%s(×%d)", name, count))
			} else {
				toolParts = append(toolParts, name)
			}
		}
		parts = append(parts, strings.Join(toolParts, ", "))
	}
	if toolResultCount > 0 {
		parts = append(parts, fmt.Sprintf("%d tool results processed", toolResultCount))
	}
	if len(paths) > 0 {
		parts = append(parts, "files: "+strings.Join(paths, ", "))
	}
	if len(snippets) > 0 {
		parts = append(parts, "notes: "+strings.Join(snippets, " | "))
	}

	b.WriteString(strings.Join(parts, "; "))
	b.WriteString("]")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func extractPaths(argsJSON string) []string {
	var paths []string
	lower := argsJSON
	for _, key := range []string{`"path":"`, `"file":"`, `"filepath":"`} {
		idx := strings.Index(lower, key)
		if idx < 0 {
			continue
		}
		rest := lower[idx+len(key):]
		end := strings.IndexByte(rest, '"')
		if end > 0 {
			paths = append(paths, rest[:end])
		}
	}
	return paths
}
