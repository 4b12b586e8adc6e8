package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/corestack/taskorch/pkg/task"
)

// Cache is a per-task, content-addressed cache of tool results. Mutating
// tools bypass it entirely; errors are never cached.
type Cache struct {
	classifier classifier

	mu    sync.RWMutex
	store map[string]string

	hits   int
	misses int
}

// NewCache builds an empty per-task cache.
func NewCache(c classifier) *Cache {
	return &Cache{classifier: c, store: make(map[string]string)}
}

// Get returns a cached result for the call, if one exists. Mutating tools
// never hit the cache.
func (c *Cache) Get(call task.ToolCall) (string, bool) {
	if !c.classifier.IsSafe(call.Name) {
		return "", false
	}
	key := cacheKey(call)

	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
	}
	return v, ok
}

// Put stores a successful result for a safe tool call. A call whose tool
// is mutating, or whose content signals an error, is never stored.
func (c *Cache) Put(call task.ToolCall, content string, isError bool) {
	if isError || !c.classifier.IsSafe(call.Name) {
		return
	}
	key := cacheKey(call)
	c.mu.Lock()
	c.store[key] = content
	c.mu.Unlock()
}

// Counters returns hit/miss/size counts for observability.
func (c *Cache) Counters() (hits, misses, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.store)
}

// cacheKey fingerprints a tool call by name and normalized arguments so
// that key-order differences in the model's emitted JSON don't cause
// spurious cache misses.
func cacheKey(call task.ToolCall) string {
	normalized := normalizeArgs(call.Arguments)
	h := sha256.Sum256([]byte(call.Name + "\x00" + normalized))
	return hex.EncodeToString(h[:])
}

// normalizeArgs produces a stable representation of a JSON-ish argument
// string by sorting top-level "key":value fragments split on commas. This
// is a heuristic, not a JSON parser — good enough for cache-key stability
// across equivalent emissions, never used for correctness-critical parsing.
func normalizeArgs(args string) string {
	trimmed := strings.TrimSpace(args)
	trimmed = strings.TrimPrefix(trimmed, "{")
	trimmed = strings.TrimSuffix(trimmed, "}")
	parts := strings.Split(trimmed, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
