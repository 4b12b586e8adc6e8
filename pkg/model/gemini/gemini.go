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

// Package gemini implements the model.LLM contract against the official
// google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"

	"google.golang.org/genai"

	"github.com/corestack/taskorch/pkg/model"
	"github.com/corestack/taskorch/pkg/task"
)

// Config configures one Gemini-backed model instance.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

type geminiModel struct {
	client *genai.Client
	name   string
	cfg    Config
}

// New constructs a Gemini-backed model.LLM.
func New(cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model, cfg: cfg}, nil
}

func (m *geminiModel) Name() string             { return m.name }
func (m *geminiModel) Provider() model.Provider { return model.ProviderGemini }
func (m *geminiModel) Close() error             { return nil }

func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return m.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *geminiModel) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	contents, sysInstr := m.buildRequest(req)
	config := m.buildConfig(req, sysInstr)

	out, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		return errorResponse(err), nil
	}
	return m.toResponse(out, false), nil
}

func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		contents, sysInstr := m.buildRequest(req)
		config := m.buildConfig(req, sysInstr)

		var (
			lastFinal *genai.GenerateContentResponse
			text      string
			calls     []task.ToolCall
		)
		for chunk, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
			if err != nil {
				yield(errorResponse(err), nil)
				return
			}
			lastFinal = chunk
			partial := m.toResponse(chunk, true)
			text += partial.Message.Text
			calls = append(calls, partial.Message.ToolCalls...)
			if !yield(partial, nil) {
				return
			}
		}
		if lastFinal != nil {
			final := m.toResponse(lastFinal, false)
			final.Message = task.Message{Role: task.RoleAssistant, Text: text, ToolCalls: calls}
			if len(calls) > 0 {
				final.FinishReason = model.FinishReasonToolCalls
			}
			yield(final, nil)
		}
	}
}

func (m *geminiModel) buildRequest(req *model.Request) ([]*genai.Content, *genai.Content) {
	var sysInstr *genai.Content
	if req.SystemInstruction != "" {
		sysInstr = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}, Role: "user"}
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		if c := messageToContent(msg); c != nil {
			contents = append(contents, c)
		}
	}
	return contents, sysInstr
}

func messageToContent(msg task.Message) *genai.Content {
	role := "user"
	if msg.Role == task.RoleAssistant {
		role = "model"
	}

	var parts []*genai.Part
	if msg.Text != "" {
		parts = append(parts, &genai.Part{Text: msg.Text})
	}
	for _, p := range msg.Parts {
		if p.Text != "" {
			parts = append(parts, &genai.Part{Text: p.Text})
		}
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
	}
	if msg.Role == task.RoleTool {
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       msg.ToolCallID,
			Name:     msg.ToolCallID,
			Response: map[string]any{"result": msg.Text},
		}})
	}

	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: role, Parts: parts}
}

func (m *geminiModel) buildConfig(req *model.Request, sysInstr *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{SystemInstruction: sysInstr}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaFromMap(t.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			v := float32(*req.Config.Temperature)
			config.Temperature = &v
		} else {
			v := float32(m.cfg.Temperature)
			config.Temperature = &v
		}
		if req.Config.MaxTokens != nil {
			config.MaxOutputTokens = int32(*req.Config.MaxTokens)
		} else if m.cfg.MaxTokens > 0 {
			config.MaxOutputTokens = int32(m.cfg.MaxTokens)
		}
		if req.Config.TopP != nil {
			v := float32(*req.Config.TopP)
			config.TopP = &v
		}
		config.StopSequences = req.Config.StopSequences
	}

	return config
}

func schemaFromMap(params map[string]any) *genai.Schema {
	if len(params) == 0 {
		return &genai.Schema{Type: genai.TypeObject}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	return &schema
}

func (m *geminiModel) toResponse(resp *genai.GenerateContentResponse, partial bool) *model.Response {
	out := &model.Response{Partial: partial, FinishReason: model.FinishReasonStop}
	if resp.UsageMetadata != nil {
		out.Usage = &model.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason != "" {
		out.FinishReason = mapFinishReason(candidate.FinishReason)
	}
	if candidate.Content == nil {
		return out
	}

	msg := task.Message{Role: task.RoleAssistant}
	for i, part := range candidate.Content.Parts {
		if part.Text != "" {
			msg.Text += part.Text
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = "call-" + strconv.Itoa(i)
			}
			args, _ := json.Marshal(part.FunctionCall.Args)
			msg.ToolCalls = append(msg.ToolCalls, task.ToolCall{
				ID: id, Name: part.FunctionCall.Name, Arguments: string(args),
			})
		}
	}
	out.Message = msg
	if len(msg.ToolCalls) > 0 {
		out.FinishReason = model.FinishReasonToolCalls
	}
	return out
}

func mapFinishReason(r genai.FinishReason) model.FinishReason {
	switch r {
	case genai.FinishReasonStop:
		return model.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return model.FinishReasonContent
	default:
		return model.FinishReasonStop
	}
}

func errorResponse(err error) *model.Response {
	code := "error"
	if isNotFoundErr(err) {
		code = "not_found"
	}
	return &model.Response{
		FinishReason: model.FinishReasonError,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}
}

func isNotFoundErr(err error) bool {
	var apiErr genai.APIError
	if asAPIError(err, &apiErr) {
		return apiErr.Code == 404
	}
	return false
}

func asAPIError(err error, target *genai.APIError) bool {
	apiErr, ok := err.(genai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
