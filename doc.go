// Package relay is a multi-provider AI assistant core for building
// command-line and messenger-facing assistants in Go.
//
// It provides the building blocks the relay CLI and Telegram bot are made
// of: provider adapters with a uniform streaming contract, a cost/quality
// aware router with automatic failover, a policy-gated execution pipeline,
// a TODO orchestrator for long-horizon tasks, and a live-run registry with
// an embedded HTTP server.
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — an LLM backend behind one of the supported wire protocols
//   - [Memory] — conversational memory supplied by an external collaborator
//   - [Transcriber], [ImageAnalyzer], [VideoDecoder] — media collaborators
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs),
// provider/messages (Anthropic-style messages API), provider/genlang
// (Google generative-language SSE), provider/execbin (local runtime binary).
//
// Routing: the router package builds candidates per prompt, hands them to
// the sched package for cost/quality reordering, and drives adapters with
// per-provider cooldowns and fallback.
//
// See cmd/relay for the complete application wiring.
package relay
