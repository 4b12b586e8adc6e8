// Package taskorch is a durable multi-turn AI task orchestrator.
//
// A Processor drives one task through a plan/work/review loop, checkpointing
// at every iteration boundary so a host restart resumes instead of losing
// progress. The tokenizer and message-token accountant keep each call inside
// its model's context window; the compressor evicts lower-priority history
// when it doesn't. The tool registry classifies tools by safety so the
// speculative executor can start safe calls while the model is still
// streaming, and the dispatcher runs a batch in parallel only when every
// call in it is safe.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/corestack/taskorch/cmd/taskorch@latest
//
// Start the control-plane server:
//
//	taskorch serve --config taskorch.yaml
//
// # Architecture
//
//	Control interface (HTTP) → Processor → Model / ToolRunner / Checkpointer
//
// Each user has at most one in-flight task per host; ownership across
// multiple hosts is tracked by the instance router.
package taskorch
