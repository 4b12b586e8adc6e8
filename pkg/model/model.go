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

// Package model defines the model-call contract the processor depends on.
//
// A single GenerateContent method handles both streaming and non-streaming
// calls, yielding one or more Response values through iter.Seq2 so callers
// can range over partial chunks without a separate streaming API.
package model

import (
	"context"
	"iter"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/corestack/taskorch/pkg/tool"
)

// LLM is the interface every model backend implements.
type LLM interface {
	// Name returns the model identifier used in logs and checkpoints.
	Name() string

	// Provider returns the backend family, used for request/response shaping
	// that differs across providers (tool-result pairing conventions, etc).
	Provider() Provider

	// GenerateContent produces responses for req.
	//
	// When stream=false, yields exactly one Response with Partial=false.
	// When stream=true, yields zero or more Partial=true chunks followed by
	// one Partial=false aggregated Response suitable for checkpointing.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources (connections, clients) held by the LLM.
	Close() error
}

// Provider identifies the backend family for request/response shaping that
// differs across providers (tool-result pairing conventions, etc).
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderUnknown   Provider = "unknown"
)

// Request is the input to one model call.
type Request struct {
	Messages          []task.Message
	Tools             []tool.Definition
	Config            *GenerateConfig
	SystemInstruction string
}

// GenerateConfig holds generation parameters shared across providers.
type GenerateConfig struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	TopK             *int
	StopSequences    []string
	ResponseMIMEType string
	ResponseSchema   map[string]any
	Metadata         map[string]string
}

// Clone returns a deep-enough copy so one caller's mutation of its config
// cannot affect a request already in flight on another goroutine.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Temperature != nil {
		v := *c.Temperature
		cp.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		cp.MaxTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		cp.TopP = &v
	}
	if c.TopK != nil {
		v := *c.TopK
		cp.TopK = &v
	}
	cp.StopSequences = append([]string(nil), c.StopSequences...)
	if c.ResponseSchema != nil {
		cp.ResponseSchema = make(map[string]any, len(c.ResponseSchema))
		for k, v := range c.ResponseSchema {
			cp.ResponseSchema[k] = v
		}
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Usage reports token accounting as returned by the provider itself, used
// for cross-checking against the tokenizer's own estimate.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// Response is the result of one model call or one streaming chunk.
type Response struct {
	Message task.Message

	// Partial distinguishes a streaming delta (true) from the final
	// aggregated response (false) that gets checkpointed.
	Partial bool

	Usage        *Usage
	FinishReason FinishReason

	// ErrorCode carries provider-specific error classification — in
	// particular the "model not found/sunset" signal that triggers
	// rotation to a fallback model.
	ErrorCode    string
	ErrorMessage string
}

// HasToolCalls reports whether this response carries tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && r.Message.HasToolCalls()
}

// IsNotFound reports whether ErrorCode indicates the requested model no
// longer exists or has been sunset by the provider.
func (r *Response) IsNotFound() bool {
	return r != nil && (r.ErrorCode == "not_found" || r.ErrorCode == "model_not_found")
}
