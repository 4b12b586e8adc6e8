// Package tools provides the registry, cache, speculative executor, and
// dispatcher that together drive tool-call execution for a running task.
package tools

import (
	"context"
	"fmt"

	"github.com/corestack/taskorch/pkg/registry"
	"github.com/corestack/taskorch/pkg/tool"
)

// Entry pairs a registered tool with its safety classification and origin.
type Entry struct {
	Tool       tool.Callable
	Safety     tool.Safety
	FromPlugin bool
}

// Registry enumerates available tools and answers safety-classification
// queries for the dispatcher and speculative executor.
type Registry struct {
	base *registry.BaseRegistry[Entry]
}

// NewRegistry builds an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Entry]()}
}

// RegisterLocal registers an in-process tool with an explicit safety
// classification.
func (r *Registry) RegisterLocal(t tool.Callable, safety tool.Safety) error {
	return r.base.Register(t.Name(), Entry{Tool: t, Safety: safety})
}

// RegisterPlugin registers a tool backed by an out-of-process plugin. A
// plugin that crashes or fails its handshake is never registered here —
// the loader reports that as a single unavailable-tool error instead.
func (r *Registry) RegisterPlugin(t tool.Callable, safety tool.Safety) error {
	return r.base.Register(t.Name(), Entry{Tool: t, Safety: safety, FromPlugin: true})
}

// Get returns the registered tool by name.
func (r *Registry) Get(name string) (Entry, bool) {
	return r.base.Get(name)
}

// Remove unregisters a tool, e.g. when its owning plugin becomes
// unavailable.
func (r *Registry) Remove(name string) error {
	return r.base.Remove(name)
}

// List returns every registered entry.
func (r *Registry) List() []Entry {
	return r.base.List()
}

// Definitions returns the model-facing schema for every registered tool.
func (r *Registry) Definitions() []tool.Definition {
	entries := r.base.List()
	defs := make([]tool.Definition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.Tool.Schema())
	}
	return defs
}

// IsSafe implements tool.Classifier against the registry's own
// classifications: a tool not registered at all is never safe.
func (r *Registry) IsSafe(name string) bool {
	entry, ok := r.base.Get(name)
	if !ok {
		return false
	}
	return entry.Safety == tool.Safe
}

// Call invokes a registered tool by name, returning a not-found error
// (isolated, not fatal) if it is unregistered or its plugin is currently
// unavailable.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	entry, ok := r.base.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return entry.Tool.Call(ctx, args)
}
