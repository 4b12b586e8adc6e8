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

// Package task defines the conversation and execution state driven by the
// processor, and the state machine that mutates it.
package task

import "time"

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Status is the terminal/non-terminal state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Phase is where in the plan/work/review progression the task currently sits.
type Phase string

const (
	PhasePlan   Phase = "plan"
	PhaseWork   Phase = "work"
	PhaseReview Phase = "review"
)

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Text          string `json:"text,omitempty"`
	ImageRef      string `json:"image_ref,omitempty"`
	IsImagePart   bool   `json:"is_image,omitempty"`
}

// Message is one turn of the conversation visible to the model.
type Message struct {
	Role Role `json:"role"`

	// Content is either a plain string (Text set, Parts nil) or a sequence
	// of parts (Parts set). Assistant tool-only turns have both empty.
	Text  string        `json:"text,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the ToolCall that spawned it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ReasoningContent is hidden chain-of-thought charged for accounting
	// purposes only; never rendered to the user.
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// HasToolCalls reports whether this message carries one or more tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsEmpty reports whether the message carries no renderable content and no
// tool calls — the signal for empty-response recovery.
func (m Message) IsEmpty() bool {
	if m.HasToolCalls() {
		return false
	}
	if m.Text != "" {
		return false
	}
	for _, p := range m.Parts {
		if p.Text != "" || p.ImageRef != "" {
			return false
		}
	}
	return true
}

// State is the full durable state of one task run.
type State struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`

	ModelAlias string `json:"model_alias"`

	Messages []Message `json:"messages"`

	Status Status `json:"status"`
	Phase  Phase  `json:"phase"`

	Iterations             int `json:"iterations"`
	WorkPhaseStartIteration int `json:"work_phase_start_iteration"`

	ToolsUsed      []string        `json:"tools_used"`
	ToolSignatures map[string]bool `json:"tool_signatures"`

	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`

	StatusMessageID string `json:"status_message_id,omitempty"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	StructuredPlan *Plan `json:"structured_plan,omitempty"`

	SteeringQueue []string `json:"steering_queue,omitempty"`

	AutoResume  bool `json:"auto_resume"`
	ResumeCount int  `json:"resume_count"`
}

// New creates the initial State for a freshly submitted task.
func New(taskID, userID, chatID, modelAlias string, messages []Message, autoResume bool) *State {
	now := time.Now()
	return &State{
		TaskID:         taskID,
		UserID:         userID,
		ChatID:         chatID,
		ModelAlias:     modelAlias,
		Messages:       messages,
		Status:         StatusProcessing,
		Phase:          PhasePlan,
		ToolSignatures: make(map[string]bool),
		StartTime:      now,
		LastUpdate:     now,
		AutoResume:     autoResume,
	}
}

// RecordToolUse appends a tool name to the usage history and records its
// fingerprint for dedup/learning purposes.
func (s *State) RecordToolUse(name, signature string) {
	s.ToolsUsed = append(s.ToolsUsed, name)
	if s.ToolSignatures == nil {
		s.ToolSignatures = make(map[string]bool)
	}
	s.ToolSignatures[signature] = true
}

// IsTerminal reports whether Status is a terminal state.
func (s *State) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Touch updates LastUpdate to now; called at every iteration boundary.
func (s *State) Touch() {
	s.LastUpdate = time.Now()
}

// Clone returns a deep-enough copy suitable for safe hand-off across a
// control-interface boundary (status snapshots must not alias the live
// processor's mutable state).
func (s *State) Clone() *State {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	cp.ToolsUsed = append([]string(nil), s.ToolsUsed...)
	cp.SteeringQueue = append([]string(nil), s.SteeringQueue...)
	cp.ToolSignatures = make(map[string]bool, len(s.ToolSignatures))
	for k, v := range s.ToolSignatures {
		cp.ToolSignatures[k] = v
	}
	if s.StructuredPlan != nil {
		p := *s.StructuredPlan
		p.Steps = append([]PlanStep(nil), s.StructuredPlan.Steps...)
		cp.StructuredPlan = &p
	}
	return &cp
}

// Plan is the parsed structured output of the planning phase.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// PlanStep is a single unit of work the planning phase identified.
type PlanStep struct {
	Action      string   `json:"action"`
	Files       []string `json:"files,omitempty"`
	Description string   `json:"description"`
}
