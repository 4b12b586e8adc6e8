// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint provides the durability boundary the task processor
// uses to survive host restarts: a small get/put/list contract with
// interchangeable backends (in-memory, SQLite, PostgreSQL, etcd).
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/corestack/taskorch/pkg/task"
)

// LatestSlot is the slot name the processor itself writes to after every
// iteration boundary. User-named saves use any other slot name.
const LatestSlot = "latest"

// ErrNotFound is returned by Get when no checkpoint exists for the given
// user and slot.
var ErrNotFound = errors.New("checkpoint: not found")

// Summary is the metadata returned by List for one saved checkpoint,
// without the full message history.
type Summary struct {
	Slot       string
	SavedAt    time.Time
	Iterations int
	ToolsUsed  []string
	Completed  bool
	ModelAlias string
}

// Gateway is the abstract checkpoint store the processor depends on.
// Concrete backends never change this contract; they only change where
// bytes land.
type Gateway interface {
	Get(ctx context.Context, userID, slot string) (*task.State, error)
	Put(ctx context.Context, userID, slot string, state *task.State) error
	List(ctx context.Context, userID string) ([]Summary, error)
}

func summarize(slot string, s *task.State) Summary {
	return Summary{
		Slot:       slot,
		SavedAt:    s.LastUpdate,
		Iterations: s.Iterations,
		ToolsUsed:  append([]string(nil), s.ToolsUsed...),
		Completed:  s.Status == task.StatusCompleted,
		ModelAlias: s.ModelAlias,
	}
}
