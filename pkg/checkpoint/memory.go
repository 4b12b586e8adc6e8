// SPDX-License-Identifier: AGPL-3.0
package checkpoint

import (
	"context"
	"sync"

	"github.com/corestack/taskorch/pkg/task"
)

// MemoryGateway is an in-process Gateway for tests and local development.
// Checkpoints are stored as a map nested under each user, mirroring how the
// SQL and etcd backends scope storage per owner.
type MemoryGateway struct {
	mu    sync.RWMutex
	users map[string]map[string]*task.State
}

// NewMemoryGateway builds an empty in-memory checkpoint store.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{users: make(map[string]map[string]*task.State)}
}

func (g *MemoryGateway) Get(ctx context.Context, userID, slot string) (*task.State, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	slots, ok := g.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	state, ok := slots[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (g *MemoryGateway) Put(ctx context.Context, userID, slot string, state *task.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	slots, ok := g.users[userID]
	if !ok {
		slots = make(map[string]*task.State)
		g.users[userID] = slots
	}
	slots[slot] = state.Clone()
	return nil
}

func (g *MemoryGateway) List(ctx context.Context, userID string) ([]Summary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	slots, ok := g.users[userID]
	if !ok {
		return nil, nil
	}
	out := make([]Summary, 0, len(slots))
	for slot, state := range slots {
		out = append(out, summarize(slot, state))
	}
	return out, nil
}
