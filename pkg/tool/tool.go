// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tool defines the tool-execution contract and the safety
// classification that gates speculative execution, parallel dispatch, and
// caching. Concrete tool bodies (HTTP fetchers, sandboxes, repository
// clients) are external collaborators implementing this interface; this
// package only specifies the boundary.
package tool

import "context"

// Definition is the schema a tool advertises to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// Tool is the minimal capability every registered tool must provide.
type Tool interface {
	Name() string
	Description() string
	Schema() Definition
}

// Callable is a tool that can be invoked directly and returns once.
type Callable interface {
	Tool
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Result is the outcome of invoking a tool.
type Result struct {
	Content any
	Error   string
	// Metadata carries non-content diagnostics (latency, cache status) for
	// observability; never surfaced to the model.
	Metadata map[string]any
}

// Safety classifies whether a tool is eligible for speculative execution,
// parallel dispatch, and caching.
type Safety int

const (
	// Mutating is the default for any tool not explicitly classified safe.
	// Mutating tools always execute sequentially, are never speculated,
	// and bypass the result cache.
	Mutating Safety = iota
	// Safe tools are read-only and idempotent: fetch, search, lookup,
	// file-read, directory-list. Eligible for speculation, parallel
	// dispatch, and caching.
	Safe
)

// Classifier answers whether a named tool is safe for speculation.
type Classifier interface {
	IsSafe(toolName string) bool
}

// defaultSafeSet is the explicit, closed whitelist of read-only tool
// names. Any tool name not present here is treated as mutating — the
// burden of proof is on declaring a tool safe, not the reverse.
var defaultSafeSet = map[string]bool{
	"fetch_url":        true,
	"web_search":       true,
	"get_weather":      true,
	"get_crypto":       true,
	"get_news":         true,
	"geolocate":        true,
	"read_file":        true,
	"list_directory":   true,
	"github_read_file": true,
	"render_chart":     true,
}

// StaticClassifier classifies against a fixed whitelist, optionally
// extended by the registry at construction time.
type StaticClassifier struct {
	safe map[string]bool
}

// NewStaticClassifier builds a classifier from the default safe set plus
// any additional names supplied by the caller.
func NewStaticClassifier(extra ...string) *StaticClassifier {
	safe := make(map[string]bool, len(defaultSafeSet)+len(extra))
	for k, v := range defaultSafeSet {
		safe[k] = v
	}
	for _, name := range extra {
		safe[name] = true
	}
	return &StaticClassifier{safe: safe}
}

// IsSafe reports whether toolName is in the safe whitelist.
func (c *StaticClassifier) IsSafe(toolName string) bool {
	return c.safe[toolName]
}

// MarkSafe adds toolName to the whitelist, e.g. when a plugin manifest
// self-declares a read-only capability that the registry chooses to trust.
func (c *StaticClassifier) MarkSafe(toolName string) {
	c.safe[toolName] = true
}
