package model

import (
	"context"
	"iter"
	"testing"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/corestack/taskorch/pkg/tool"
)

type fakeLLM struct {
	resp    *Response
	err     error
	chunks  []*Response
	sawReq  *Request
}

func (f *fakeLLM) Name() string       { return "fake-model" }
func (f *fakeLLM) Provider() Provider { return ProviderUnknown }
func (f *fakeLLM) Close() error       { return nil }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error] {
	f.sawReq = req
	return func(yield func(*Response, error) bool) {
		if stream && len(f.chunks) > 0 {
			for _, c := range f.chunks {
				if !yield(c, nil) {
					return
				}
			}
			return
		}
		yield(f.resp, f.err)
	}
}

type recordingHandle struct {
	ready []task.ToolCall
}

func (h *recordingHandle) OnToolCallReady(ctx context.Context, call task.ToolCall) {
	h.ready = append(h.ready, call)
}

func TestAdapterGenerateReturnsMessageAndMeta(t *testing.T) {
	llm := &fakeLLM{resp: &Response{
		Message:      task.Message{Role: task.RoleAssistant, Text: "hi"},
		FinishReason: FinishReasonStop,
	}}
	adapter := NewAdapter(llm, nil)

	msg, meta, err := adapter.Generate(context.Background(), nil, "system")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Text != "hi" {
		t.Errorf("expected text 'hi', got %q", msg.Text)
	}
	if meta.FinishReason != string(FinishReasonStop) {
		t.Errorf("expected finish reason stop, got %q", meta.FinishReason)
	}
	if meta.NotFound {
		t.Error("expected NotFound false")
	}
}

func TestAdapterGeneratePropagatesError(t *testing.T) {
	llm := &fakeLLM{err: context.DeadlineExceeded}
	adapter := NewAdapter(llm, nil)

	_, _, err := adapter.Generate(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAdapterNameDelegatesToLLM(t *testing.T) {
	adapter := NewAdapter(&fakeLLM{}, nil)
	if adapter.Name() != "fake-model" {
		t.Errorf("expected fake-model, got %q", adapter.Name())
	}
}

func TestAdapterWithToolsPopulatesRequest(t *testing.T) {
	llm := &fakeLLM{resp: &Response{Message: task.Message{Role: task.RoleAssistant, Text: "ok"}}}
	defs := []tool.Definition{{Name: "fetch_url"}}
	adapter := NewAdapter(llm, nil).WithTools(defs)

	if _, _, err := adapter.Generate(context.Background(), nil, ""); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(llm.sawReq.Tools) != 1 || llm.sawReq.Tools[0].Name != "fetch_url" {
		t.Errorf("expected request to carry tool definitions, got %+v", llm.sawReq.Tools)
	}
}

func TestAdapterGenerateSpeculativeNotifiesHandleBeforeFinalChunk(t *testing.T) {
	toolCall := task.ToolCall{ID: "1", Name: "fetch_url", Arguments: `{}`}
	llm := &fakeLLM{chunks: []*Response{
		{Partial: true, Message: task.Message{ToolCalls: []task.ToolCall{toolCall}}},
		{Partial: true, Message: task.Message{ToolCalls: []task.ToolCall{toolCall}}}, // duplicate, must not re-notify
		{Partial: false, Message: task.Message{Role: task.RoleAssistant, ToolCalls: []task.ToolCall{toolCall}}, FinishReason: FinishReasonToolCalls},
	}}
	adapter := NewAdapter(llm, nil)
	handle := &recordingHandle{}

	msg, meta, err := adapter.GenerateSpeculative(context.Background(), nil, "", handle)
	if err != nil {
		t.Fatalf("GenerateSpeculative: %v", err)
	}
	if len(handle.ready) != 1 {
		t.Fatalf("expected exactly one ready notification, got %d", len(handle.ready))
	}
	if !msg.HasToolCalls() {
		t.Error("expected final message to carry the tool call")
	}
	if meta.FinishReason != string(FinishReasonToolCalls) {
		t.Errorf("expected finish reason tool_calls, got %q", meta.FinishReason)
	}
}

func TestAdapterGenerateSpeculativePropagatesError(t *testing.T) {
	adapter := NewAdapter(&fakeLLM{err: context.DeadlineExceeded}, nil)
	_, _, err := adapter.GenerateSpeculative(context.Background(), nil, "", &recordingHandle{})
	if err == nil {
		t.Fatal("expected error")
	}
}
