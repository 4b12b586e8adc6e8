package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	name  string
	steps []Message
	metas []ModelMeta
	errs  []error
	i     int
	mu    sync.Mutex
}

func (m *scriptedModel) Name() string { return m.name }

func (m *scriptedModel) Generate(ctx context.Context, messages []Message, sys string) (Message, ModelMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.i >= len(m.steps) {
		return Message{Role: RoleAssistant, Text: "done"}, ModelMeta{}, nil
	}
	msg := m.steps[m.i]
	var meta ModelMeta
	if m.i < len(m.metas) {
		meta = m.metas[m.i]
	}
	var err error
	if m.i < len(m.errs) {
		err = m.errs[m.i]
	}
	m.i++
	return msg, meta, err
}

type echoTools struct{}

func (echoTools) Run(ctx context.Context, calls []ToolCall) []Message {
	out := make([]Message, len(calls))
	for i, c := range calls {
		out[i] = Message{Role: RoleTool, ToolCallID: c.ID, Text: "ok:" + c.Name}
	}
	return out
}

type memCheckpointer struct {
	mu    sync.Mutex
	saved []*State
}

func (c *memCheckpointer) Save(ctx context.Context, s *State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, s.Clone())
	return nil
}

func (c *memCheckpointer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saved)
}

type noopProgress struct{}

func (noopProgress) Report(ctx context.Context, s *State, note string) {}

// waitTerminal polls until the run for s is terminal. The processor
// releases a run once its loop returns, after which Status no longer
// reports it; from then on s itself holds the final state.
func waitTerminal(t *testing.T, p *Processor, s *State, timeout time.Duration) *State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap, ok := p.Status(s.UserID)
		if !ok {
			return s
		}
		if snap.IsTerminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach terminal state in time")
	return nil
}

func TestProcessorCompletesOnPlainTextDuringReview(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)
	s.Phase = PhaseReview

	model := &scriptedModel{name: "m", steps: []Message{{Role: RoleAssistant, Text: "all done"}}}
	cp := &memCheckpointer{}
	p := NewProcessor(Config{}, model, echoTools{}, cp, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.True(t, cp.count() > 0)
}

func TestProcessorAdvancesThroughPhasesOnToolCalls(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "read_file", Arguments: "{}"}}},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "2", Name: "read_file", Arguments: "{}"}}},
		{Role: RoleAssistant, Text: "final answer"},
	}}
	cp := &memCheckpointer{}
	p := NewProcessor(Config{}, model, echoTools{}, cp, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 3*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.GreaterOrEqual(t, len(final.ToolsUsed), 2)
}

func TestProcessorTerminatesWorkPhaseWithoutReviewWhenNoToolUsed(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleSystem, Text: "sys"}, {Role: RoleUser, Text: "what is 2+2?"}}, false)
	s.Phase = PhaseWork

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant, Text: "4"},
	}}
	p := NewProcessor(Config{}, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "4", final.Result)
	assert.Equal(t, PhaseWork, final.Phase)
	assert.Equal(t, 1, final.Iterations)
}

func TestProcessorRejectsConcurrentSubmitForSameUser(t *testing.T) {
	s1 := New("t1", "u1", "c1", "m", nil, false)
	s2 := New("t2", "u1", "c1", "m", nil, false)

	model := &scriptedModel{name: "m"}
	p := NewProcessor(Config{}, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s1))
	err := p.Submit(context.Background(), s2)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestProcessorEmptyResponseExhaustionSucceedsWithFallbackResult(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)
	s.Phase = PhaseWork
	s.RecordToolUse("read_file", "sig1")

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant},
		{Role: RoleAssistant},
	}}
	cfg := Config{EmptyResponseRetries: 1}
	p := NewProcessor(cfg, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Contains(t, final.Result, "Based on 1 tool calls")
	assert.Contains(t, final.Result, "read_file")
}

type recordingCompressor struct{ budgets []int }

func (c *recordingCompressor) Compress(messages []Message, budget int, minTail int) []Message {
	c.budgets = append(c.budgets, budget)
	return messages
}

func TestProcessorEmptyResponseNudgeHalvesBudgetAndUsesExactText(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)
	s.Phase = PhaseWork

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant},
		{Role: RoleAssistant, Text: "ok"},
	}}
	comp := &recordingCompressor{}
	cfg := Config{EmptyResponseRetries: 2, ContextBudget: 1000, Compressor: comp}
	p := NewProcessor(cfg, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)

	var foundNudge bool
	for _, m := range final.Messages {
		if m.Text == "[SYSTEM] Your last response was empty after a tool call. Please produce the final answer now." {
			foundNudge = true
		}
	}
	assert.True(t, foundNudge, "expected the exact empty-response nudge text in the conversation")
	assert.Equal(t, []int{1000, 500}, comp.budgets)
}

func TestProcessorRecoveredResponseSkipsReview(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)
	s.Phase = PhaseWork
	s.RecordToolUse("read_file", "sig1")

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant},
		{Role: RoleAssistant, Text: "recovered final answer"},
	}}
	cfg := Config{EmptyResponseRetries: 1}
	p := NewProcessor(cfg, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "recovered final answer", final.Result)
	assert.Equal(t, PhaseWork, final.Phase)
}

func TestProcessorCancelStopsLoop(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)
	model := &scriptedModel{name: "m"}
	p := NewProcessor(Config{}, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	require.NoError(t, p.Cancel("u1"))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCancelled, final.Status)
}

func TestProcessorIterationCapCompletesWithLimitResult(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)
	var steps []Message
	for i := 0; i < 5; i++ {
		steps = append(steps, Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "x", Name: "read_file", Arguments: "{}"}}})
	}
	model := &scriptedModel{name: "m", steps: steps}
	cfg := Config{MaxIterations: 3}
	p := NewProcessor(cfg, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 2*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Contains(t, final.Result, "iteration limit (3)")
}

type fixedPlanParser struct {
	plan *Plan
}

func (f fixedPlanParser) Parse(text string) *Plan { return f.plan }

func TestProcessorCapturesStructuredPlanDuringPlanPhase(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant, Text: "```json\n{\"steps\":[{\"action\":\"read\",\"files\":[\"a.go\"]}]}\n```"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "read_file", Arguments: "{}"}}},
		{Role: RoleAssistant, Text: "final answer"},
	}}
	plan := &Plan{Steps: []PlanStep{{Action: "read", Files: []string{"a.go"}}}}
	cfg := Config{PlanParser: fixedPlanParser{plan: plan}, PlanPrompt: "[CUSTOM PLAN PROMPT]"}
	p := NewProcessor(cfg, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 3*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, s.StructuredPlan)
	assert.Equal(t, "read", s.StructuredPlan.Steps[0].Action)
}

type fixedPlanInjector struct {
	block string
	calls int
}

func (f *fixedPlanInjector) Inject(ctx context.Context, plan *Plan, conversation []Message) string {
	f.calls++
	return f.block
}

func TestProcessorInjectsPlanContextOncePriorToWorkPhase(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)

	model := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant, Text: "```json\n{\"steps\":[{\"action\":\"read\",\"files\":[\"a.go\"]}]}\n```"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "read_file", Arguments: "{}"}}},
		{Role: RoleAssistant, Text: "final answer"},
	}}
	plan := &Plan{Steps: []PlanStep{{Action: "read", Files: []string{"a.go"}}}}
	injector := &fixedPlanInjector{block: "[PRE-LOADED FILES] a.go contents"}
	cfg := Config{PlanParser: fixedPlanParser{plan: plan}, PlanInjector: injector}
	p := NewProcessor(cfg, model, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)

	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 3*time.Second)
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, injector.calls)

	var found bool
	for _, m := range final.Messages {
		if m.Text == injector.block {
			found = true
		}
	}
	assert.True(t, found, "expected the injected plan context block to appear in the conversation")
}

type speculativeModel struct {
	*scriptedModel
	readyCalls int
}

func (m *speculativeModel) GenerateSpeculative(ctx context.Context, messages []Message, sys string, handle SpeculativeHandle) (Message, ModelMeta, error) {
	msg, meta, err := m.Generate(ctx, messages, sys)
	for _, tc := range msg.ToolCalls {
		m.readyCalls++
		handle.OnToolCallReady(ctx, tc)
	}
	return msg, meta, err
}

type speculativeHandle struct{ notified []ToolCall }

func (h *speculativeHandle) OnToolCallReady(ctx context.Context, call ToolCall) {
	h.notified = append(h.notified, call)
}

type speculativeTools struct {
	echoTools
	handlesMinted int
	ranSpeculative int
}

func (r *speculativeTools) NewSpeculativeHandle() SpeculativeHandle {
	r.handlesMinted++
	return &speculativeHandle{}
}

func (r *speculativeTools) RunSpeculative(ctx context.Context, calls []ToolCall, handle SpeculativeHandle) []Message {
	r.ranSpeculative++
	return r.Run(ctx, calls)
}

func TestProcessorUsesSpeculativePathWhenBothCollaboratorsSupportIt(t *testing.T) {
	s := New("t1", "u1", "c1", "m", []Message{{Role: RoleUser, Text: "hi"}}, false)

	base := &scriptedModel{name: "m", steps: []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "read_file", Arguments: "{}"}}},
		{Role: RoleAssistant, Text: "final answer"},
	}}
	model := &speculativeModel{scriptedModel: base}
	toolRunner := &speculativeTools{}

	p := NewProcessor(Config{}, model, toolRunner, &memCheckpointer{}, noopProgress{}, nil)
	require.NoError(t, p.Submit(context.Background(), s))
	final := waitTerminal(t, p, s, 3*time.Second)

	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, model.readyCalls)
	assert.Equal(t, 3, toolRunner.handlesMinted)
	assert.Equal(t, 1, toolRunner.ranSpeculative)
}

func TestSystemInstructionForUsesConfiguredPlanPrompt(t *testing.T) {
	p := NewProcessor(Config{PlanPrompt: "[CUSTOM]"}, &scriptedModel{name: "m"}, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)
	s := New("t1", "u1", "c1", "m", nil, false)
	s.Phase = PhasePlan
	assert.Equal(t, "[CUSTOM]", p.systemInstructionFor(s))

	p2 := NewProcessor(Config{}, &scriptedModel{name: "m"}, echoTools{}, &memCheckpointer{}, noopProgress{}, nil)
	assert.Contains(t, p2.systemInstructionFor(s), "PLANNING PHASE")
}
