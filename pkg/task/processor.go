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

package task

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Default tunables for the iteration loop. Config overrides the first
// four; DefaultHeartbeatInterval is not read by the Processor.
const (
	DefaultMaxIterations       = 100
	DefaultEmptyResponseRetries = 2
	DefaultAutoResumeCapPaid   = 10
	DefaultAutoResumeCapFree   = 15
	DefaultHeartbeatInterval   = 15 * time.Second
)

// ErrBusy is returned by Submit when a task is already running for the
// given user — the processor enforces one in-flight run per user.
var ErrBusy = errors.New("task: a task is already running for this user")

// ErrUnknownTask is returned by Cancel/Steer when no running task matches.
var ErrUnknownTask = errors.New("task: no running task with that id")

// Model is the subset of the model-call contract the processor depends
// on, expressed narrowly so tests can supply a fake.
type Model interface {
	Name() string
	Generate(ctx context.Context, messages []Message, systemInstruction string) (Message, ModelMeta, error)
}

// ModelMeta carries out-of-band signals from one model call that influence
// the iteration loop but are not part of the conversation itself.
type ModelMeta struct {
	NotFound     bool
	FinishReason string
}

// ToolRunner dispatches a batch of tool calls and returns the resulting
// tool-role messages, in the same order the calls were issued.
type ToolRunner interface {
	Run(ctx context.Context, calls []ToolCall) []Message
}

// Checkpointer is the durability boundary the processor saves to at every
// iteration boundary. The processor itself never loads a checkpoint.
type Checkpointer interface {
	Save(ctx context.Context, s *State) error
}

// ProgressReporter receives status updates as the loop progresses; a
// throttled adapter typically sits between the processor and the
// front end.
type ProgressReporter interface {
	Report(ctx context.Context, s *State, note string)
}

// ContextCompressor reduces a conversation to fit a token budget before a
// model call, preserving tool-call/result pairing. A nil Compressor in
// Config disables compression entirely.
type ContextCompressor interface {
	Compress(messages []Message, budget int, minTail int) []Message
}

// PlanParser extracts a structured Plan out of the plan phase's raw model
// response. A nil PlanParser leaves State.StructuredPlan unset; the loop
// still advances phases normally.
type PlanParser interface {
	Parse(text string) *Plan
}

// PlanInjector resolves the files a structured plan references and
// composes a single context block to append to the conversation before
// the work phase begins. An empty return value means nothing was
// resolved; a nil PlanInjector in Config disables pre-fetch entirely.
type PlanInjector interface {
	Inject(ctx context.Context, plan *Plan, conversation []Message) string
}

// SpeculativeHandle receives early notice that one tool call's arguments
// are fully streamed, before the model's full turn is assembled, so a
// safe call can start running ahead of time.
type SpeculativeHandle interface {
	OnToolCallReady(ctx context.Context, call ToolCall)
}

// SpeculativeModel is an optional Model capability for streaming-capable
// backends: Generate's usual contract, plus a variant that reports tool
// calls to handle as they arrive instead of only at the end.
type SpeculativeModel interface {
	Model
	GenerateSpeculative(ctx context.Context, messages []Message, systemInstruction string, handle SpeculativeHandle) (Message, ModelMeta, error)
}

// SpeculativeToolRunner is an optional ToolRunner capability: it mints a
// fresh SpeculativeHandle for one iteration and can later reconcile a
// batch against the calls that handle already started.
type SpeculativeToolRunner interface {
	ToolRunner
	NewSpeculativeHandle() SpeculativeHandle
	RunSpeculative(ctx context.Context, calls []ToolCall, handle SpeculativeHandle) []Message
}

// Config parameterizes one Processor.
type Config struct {
	MaxIterations        int
	EmptyResponseRetries int
	AutoResumeCapPaid    int
	AutoResumeCapFree    int
	IsFreeTier           bool
	FallbackModels       []Model

	// Compressor and ContextBudget together bound the conversation sent
	// to the model on every iteration. ContextBudget <= 0 disables
	// compression even when Compressor is set.
	Compressor    ContextCompressor
	ContextBudget int

	// PlanParser extracts a structured plan from the plan phase's
	// response. PlanPrompt overrides the default plan-phase system
	// instruction; leave empty to use the built-in one. PlanInjector
	// resolves that plan's referenced files into a context block injected
	// once, right before the work phase starts.
	PlanParser   PlanParser
	PlanPrompt   string
	PlanInjector PlanInjector
}

func (c Config) withDefaults() Config {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.EmptyResponseRetries == 0 {
		c.EmptyResponseRetries = DefaultEmptyResponseRetries
	}
	if c.AutoResumeCapPaid == 0 {
		c.AutoResumeCapPaid = DefaultAutoResumeCapPaid
	}
	if c.AutoResumeCapFree == 0 {
		c.AutoResumeCapFree = DefaultAutoResumeCapFree
	}
	return c
}

// Processor drives a single task's plan/work/review loop to completion,
// checkpointing at every iteration boundary and enforcing a single
// in-flight run per user. One Processor instance is shared by every task
// a given host owns; per-task concurrency is guarded by running.
type Processor struct {
	cfg        Config
	model      Model
	tools      ToolRunner
	checkpoint Checkpointer
	progress   ProgressReporter
	log        *slog.Logger

	mu       sync.Mutex
	running  map[string]*run // keyed by UserID
	cancel   map[string]context.CancelFunc
}

type run struct {
	state   *State
	steer   chan string
}

// NewProcessor builds a Processor over its collaborators.
func NewProcessor(cfg Config, model Model, tools ToolRunner, checkpoint Checkpointer, progress ProgressReporter, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		cfg:        cfg.withDefaults(),
		model:      model,
		tools:      tools,
		checkpoint: checkpoint,
		progress:   progress,
		log:        log,
		running:    make(map[string]*run),
		cancel:     make(map[string]context.CancelFunc),
	}
}

// Submit starts processing state in the background and returns immediately.
// It fails with ErrBusy if the user already has a task running.
func (p *Processor) Submit(ctx context.Context, s *State) error {
	p.mu.Lock()
	if _, ok := p.running[s.UserID]; ok {
		p.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{state: s, steer: make(chan string, 8)}
	p.running[s.UserID] = r
	p.cancel[s.UserID] = cancel
	p.mu.Unlock()

	go p.drive(runCtx, r)
	return nil
}

// Cancel requests cooperative cancellation of the user's running task.
func (p *Processor) Cancel(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancel[userID]
	if !ok {
		return ErrUnknownTask
	}
	cancel()
	return nil
}

// Steer enqueues guidance text to be folded into the conversation at the
// next iteration boundary, without interrupting in-flight model or tool
// calls.
func (p *Processor) Steer(userID, text string) error {
	p.mu.Lock()
	r, ok := p.running[userID]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	select {
	case r.steer <- text:
		return nil
	default:
		return fmt.Errorf("task: steering queue full for user %s", userID)
	}
}

// Status returns a snapshot of the user's running task, if any.
func (p *Processor) Status(userID string) (*State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.running[userID]
	if !ok {
		return nil, false
	}
	return r.state.Clone(), true
}

func (p *Processor) release(userID string) {
	p.mu.Lock()
	delete(p.running, userID)
	delete(p.cancel, userID)
	p.mu.Unlock()
}

// drive runs the iteration loop until the task reaches a terminal state,
// the context is cancelled, or the iteration cap is hit.
func (p *Processor) drive(ctx context.Context, r *run) {
	defer p.release(r.state.UserID)

	s := r.state
	model := p.model
	emptyRetries := 0
	budget := p.cfg.ContextBudget

	for {
		select {
		case <-ctx.Done():
			s.Status = StatusCancelled
			s.Touch()
			p.saveCheckpoint(context.Background(), s)
			return
		case note := <-r.steer:
			s.SteeringQueue = append(s.SteeringQueue, note)
		default:
		}

		if s.Iterations >= p.cfg.MaxIterations {
			s.Status = StatusCompleted
			s.Result = fmt.Sprintf("Task hit iteration limit (%d). Send 'continue' to keep going.", p.cfg.MaxIterations)
			s.Touch()
			p.saveCheckpoint(ctx, s)
			p.notify(ctx, s, "completed: iteration limit reached")
			return
		}

		p.drainSteering(s)

		sys := p.systemInstructionFor(s)
		messages := s.Messages
		if p.cfg.Compressor != nil && budget > 0 {
			messages = p.cfg.Compressor.Compress(messages, budget, 0)
		}

		specRunner, runnerCanSpeculate := p.tools.(SpeculativeToolRunner)
		specModel, modelCanSpeculate := model.(SpeculativeModel)

		var resp Message
		var meta ModelMeta
		var err error
		var handle SpeculativeHandle
		if runnerCanSpeculate && modelCanSpeculate {
			handle = specRunner.NewSpeculativeHandle()
			resp, meta, err = specModel.GenerateSpeculative(ctx, messages, sys, handle)
		} else {
			resp, meta, err = model.Generate(ctx, messages, sys)
		}
		s.Iterations++

		if err != nil {
			if fallback := p.nextFallback(model); fallback != nil {
				p.log.Warn("model call failed, rotating to fallback", "model", model.Name(), "err", err)
				model = fallback
				continue
			}
			s.Status = StatusFailed
			s.Error = err.Error()
			s.Touch()
			p.saveCheckpoint(ctx, s)
			p.notify(ctx, s, "failed: "+err.Error())
			return
		}

		if meta.NotFound {
			if fallback := p.nextFallback(model); fallback != nil {
				p.log.Warn("model sunset/not found, rotating", "model", model.Name())
				model = fallback
				continue
			}
			s.Status = StatusFailed
			s.Error = "model unavailable and no fallback configured"
			s.Touch()
			p.saveCheckpoint(ctx, s)
			return
		}

		if resp.IsEmpty() {
			emptyRetries++
			if emptyRetries > p.cfg.EmptyResponseRetries {
				if fallback := p.nextFallback(model); fallback != nil {
					model = fallback
					emptyRetries = 0
					budget = p.cfg.ContextBudget
					continue
				}
				s.Status = StatusCompleted
				s.Result = fallbackResult(s)
				s.Touch()
				p.saveCheckpoint(ctx, s)
				p.notify(ctx, s, "completed")
				return
			}
			if budget > 0 {
				budget /= 2
			}
			s.Messages = append(s.Messages, Message{
				Role: RoleUser,
				Text: "[SYSTEM] Your last response was empty after a tool call. Please produce the final answer now.",
			})
			continue
		}
		recovered := emptyRetries > 0
		emptyRetries = 0
		budget = p.cfg.ContextBudget

		s.Messages = append(s.Messages, resp)

		if s.Phase == PhasePlan && p.cfg.PlanParser != nil && s.StructuredPlan == nil {
			if plan := p.cfg.PlanParser.Parse(resp.Text); plan != nil {
				s.StructuredPlan = plan
			}
		}

		if resp.HasToolCalls() {
			// Tool calls move plan to work; the work phase itself only ends
			// on a tool-less response, handled below.
			oldPhase := s.Phase
			if oldPhase == PhasePlan {
				p.advancePhase(s)
			}
			if oldPhase == PhasePlan && s.Phase == PhaseWork {
				p.injectPlanContext(ctx, s)
			}
			var toolMsgs []Message
			if handle != nil {
				toolMsgs = specRunner.RunSpeculative(ctx, resp.ToolCalls, handle)
			} else {
				toolMsgs = p.tools.Run(ctx, resp.ToolCalls)
			}
			for i, tc := range resp.ToolCalls {
				sig := signature(tc)
				s.RecordToolUse(tc.Name, sig)
				if i < len(toolMsgs) {
					s.Messages = append(s.Messages, toolMsgs[i])
				}
			}
			s.Touch()
			p.saveCheckpoint(ctx, s)
			p.notify(ctx, s, "")
			continue
		}

		// No tool calls and non-empty text: the model considers the task
		// done for this phase. A response recovered from the empty-retry
		// path always completes with that content — review never runs
		// after recovery, regardless of phase or tool usage.
		if recovered {
			s.Status = StatusCompleted
			s.Result = resp.Text
			s.Touch()
			p.saveCheckpoint(ctx, s)
			p.notify(ctx, s, "completed")
			return
		}

		switch s.Phase {
		case PhasePlan:
			p.advancePhase(s)
			p.injectPlanContext(ctx, s)
			s.Touch()
			p.saveCheckpoint(ctx, s)
			continue
		case PhaseWork:
			// Review only runs if the work phase actually invoked a tool;
			// a tool-less work-phase answer is the final result.
			if len(s.ToolsUsed) == 0 {
				s.Status = StatusCompleted
				s.Result = resp.Text
				s.Touch()
				p.saveCheckpoint(ctx, s)
				p.notify(ctx, s, "completed")
				return
			}
			p.advancePhase(s)
			s.Touch()
			p.saveCheckpoint(ctx, s)
			continue
		default: // PhaseReview
			s.Status = StatusCompleted
			s.Result = resp.Text
			s.Touch()
			p.saveCheckpoint(ctx, s)
			p.notify(ctx, s, "completed")
			return
		}
	}
}

// injectPlanContext resolves the structured plan's referenced files and
// appends the resulting context block as a user-role message, once, right
// as the work phase begins. A nil PlanInjector, a nil StructuredPlan, or
// an injector that resolves nothing are all no-ops.
func (p *Processor) injectPlanContext(ctx context.Context, s *State) {
	if p.cfg.PlanInjector == nil || s.StructuredPlan == nil {
		return
	}
	block := p.cfg.PlanInjector.Inject(ctx, s.StructuredPlan, s.Messages)
	if block == "" {
		return
	}
	s.Messages = append(s.Messages, Message{Role: RoleUser, Text: block})
}

// fallbackResult composes a best-effort final answer when the model keeps
// returning empty responses and no fallback model is left to rotate to —
// the task still completes successfully, summarizing whatever tool calls
// it managed to make before stalling out.
func fallbackResult(s *State) string {
	n := len(s.ToolsUsed)
	if n == 0 {
		return "Based on 0 tool calls: no response could be produced before the model stopped responding."
	}
	return fmt.Sprintf("Based on %d tool calls: %s", n, strings.Join(s.ToolsUsed, ", "))
}

func (p *Processor) drainSteering(s *State) {
	if len(s.SteeringQueue) == 0 {
		return
	}
	for _, note := range s.SteeringQueue {
		s.Messages = append(s.Messages, Message{Role: RoleUser, Text: "[steering] " + note})
	}
	s.SteeringQueue = nil
}

func (p *Processor) advancePhase(s *State) {
	switch s.Phase {
	case PhasePlan:
		s.Phase = PhaseWork
		s.WorkPhaseStartIteration = s.Iterations
	case PhaseWork:
		s.Phase = PhaseReview
	}
}

func (p *Processor) nextFallback(current Model) Model {
	for i, m := range p.cfg.FallbackModels {
		if m.Name() == current.Name() && i+1 < len(p.cfg.FallbackModels) {
			return p.cfg.FallbackModels[i+1]
		}
	}
	if len(p.cfg.FallbackModels) > 0 && p.cfg.FallbackModels[0].Name() != current.Name() {
		return p.cfg.FallbackModels[0]
	}
	return nil
}

func (p *Processor) saveCheckpoint(ctx context.Context, s *State) {
	if p.checkpoint == nil {
		return
	}
	if err := p.checkpoint.Save(ctx, s); err != nil {
		p.log.Error("checkpoint save failed", "task_id", s.TaskID, "err", err)
	}
}

func (p *Processor) notify(ctx context.Context, s *State, note string) {
	if p.progress == nil {
		return
	}
	p.progress.Report(ctx, s, note)
}

func (p *Processor) systemInstructionFor(s *State) string {
	switch s.Phase {
	case PhasePlan:
		if p.cfg.PlanPrompt != "" {
			return p.cfg.PlanPrompt
		}
		return "[PLANNING PHASE] Produce a short plan before acting."
	case PhaseReview:
		return "[REVIEW PHASE] Summarize what was done and confirm completion."
	default:
		return "[WORK PHASE] Carry out the plan using the available tools."
	}
}

func signature(tc ToolCall) string {
	h := sha256.New()
	h.Write([]byte(tc.Name))
	h.Write([]byte{0})
	h.Write([]byte(tc.Arguments))
	return hex.EncodeToString(h.Sum(nil))
}

// ResumeAllowed reports whether AutoResume may fire again for s, honoring
// the paid/free resume-count cap.
func (c Config) ResumeAllowed(s *State, isFreeTier bool) bool {
	if !s.AutoResume {
		return false
	}
	limit := c.withDefaults().AutoResumeCapPaid
	if isFreeTier {
		limit = c.withDefaults().AutoResumeCapFree
	}
	return s.ResumeCount < limit
}
