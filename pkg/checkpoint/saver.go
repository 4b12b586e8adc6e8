// SPDX-License-Identifier: AGPL-3.0
package checkpoint

import (
	"context"

	"github.com/corestack/taskorch/pkg/task"
)

// Saver adapts a Gateway to task.Checkpointer by always writing to
// LatestSlot, which is the only slot the processor itself touches.
type Saver struct {
	gateway Gateway
}

// NewSaver wraps gateway as a task.Checkpointer.
func NewSaver(gateway Gateway) *Saver {
	return &Saver{gateway: gateway}
}

// Save implements task.Checkpointer.
func (s *Saver) Save(ctx context.Context, state *task.State) error {
	return s.gateway.Put(ctx, state.UserID, LatestSlot, state)
}
