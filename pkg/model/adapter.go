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

package model

import (
	"context"
	"fmt"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/corestack/taskorch/pkg/tool"
)

// Adapter narrows an LLM down to task.Model: a single non-streaming call
// per iteration, plus the not-found/finish-reason signals the processor
// uses to drive fallback rotation and recovery. When the backend supports
// streaming, Adapter also satisfies task.SpeculativeModel.
type Adapter struct {
	llm      LLM
	config   *GenerateConfig
	toolDefs []tool.Definition
}

// NewAdapter wraps llm as a task.Model. cfg may be nil.
func NewAdapter(llm LLM, cfg *GenerateConfig) *Adapter {
	return &Adapter{llm: llm, config: cfg}
}

// WithTools attaches the tool schemas advertised to the model on every
// call, typically a registry's Definitions(). Returns the receiver for
// chaining at construction time.
func (a *Adapter) WithTools(defs []tool.Definition) *Adapter {
	a.toolDefs = defs
	return a
}

// Name implements task.Model.
func (a *Adapter) Name() string {
	return a.llm.Name()
}

// Generate implements task.Model by making exactly one non-streaming call
// and collapsing the iterator down to its single Response.
func (a *Adapter) Generate(ctx context.Context, messages []task.Message, systemInstruction string) (task.Message, task.ModelMeta, error) {
	req := &Request{
		Messages:          messages,
		Tools:             a.toolDefs,
		Config:            a.config.Clone(),
		SystemInstruction: systemInstruction,
	}

	var (
		resp    *Response
		callErr error
	)
	for r, err := range a.llm.GenerateContent(ctx, req, false) {
		resp, callErr = r, err
		break
	}

	if callErr != nil {
		return task.Message{}, task.ModelMeta{}, fmt.Errorf("model %s: %w", a.llm.Name(), callErr)
	}
	if resp == nil {
		return task.Message{}, task.ModelMeta{}, fmt.Errorf("model %s: no response", a.llm.Name())
	}

	meta := task.ModelMeta{
		NotFound:     resp.IsNotFound(),
		FinishReason: string(resp.FinishReason),
	}
	return resp.Message, meta, nil
}

// GenerateSpeculative implements task.SpeculativeModel by issuing a
// streaming call and reporting each tool call to handle the moment its
// arguments are fully received in a chunk, rather than waiting for the
// aggregated final Response that Generate returns.
func (a *Adapter) GenerateSpeculative(ctx context.Context, messages []task.Message, systemInstruction string, handle task.SpeculativeHandle) (task.Message, task.ModelMeta, error) {
	req := &Request{
		Messages:          messages,
		Tools:             a.toolDefs,
		Config:            a.config.Clone(),
		SystemInstruction: systemInstruction,
	}

	seen := make(map[string]bool)
	var (
		final   *Response
		callErr error
	)
	for r, err := range a.llm.GenerateContent(ctx, req, true) {
		if err != nil {
			callErr = err
			break
		}
		if r == nil {
			continue
		}
		for _, tc := range r.Message.ToolCalls {
			if tc.ID == "" || seen[tc.ID] {
				continue
			}
			seen[tc.ID] = true
			handle.OnToolCallReady(ctx, tc)
		}
		if !r.Partial {
			final = r
			break
		}
	}

	if callErr != nil {
		return task.Message{}, task.ModelMeta{}, fmt.Errorf("model %s: %w", a.llm.Name(), callErr)
	}
	if final == nil {
		return task.Message{}, task.ModelMeta{}, fmt.Errorf("model %s: no response", a.llm.Name())
	}

	meta := task.ModelMeta{
		NotFound:     final.IsNotFound(),
		FinishReason: string(final.FinishReason),
	}
	return final.Message, meta, nil
}
