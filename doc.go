// Package relay is an AI assistant task orchestrator.
//
// It accepts a natural-language prompt, drives a language-model loop that
// emits short programs, executes each program in a capability-restricted
// sandbox where the only externally visible API is a tree of declared tools,
// gates tool calls through a per-request approval protocol, streams progress
// events to subscribers, and returns a final textual answer.
//
// # Quick Start
//
//	provider := anthropic.New(apiKey)
//	tree := relay.Merge(web.New().Tree(), doc.New().Tree())
//	runner := sandbox.NewRunner()
//
//	orch := relay.NewOrchestrator(provider, tree, runner)
//	task := orch.Create(ctx, "Summarize the open incidents", "user-1", "")
//
//	orch.Subscribe(task.ID, func(ev relay.TaskEvent) error {
//		fmt.Println(ev.Type)
//		return nil
//	})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — LLM backend (a single Generate capability)
//   - [CodeRunner] — sandboxed evaluation of model-written code
//   - [Tool] — schema-validated capability exposed to generated code
//   - [TaskStore] — optional write-behind audit persistence
//   - [Tracer] — span creation for loop, runner, and tool operations
//
// # Included Implementations
//
// Providers: provider/anthropic (Claude), provider/openaicompat
// (OpenAI-compatible APIs). Sandbox: sandbox (embedded JavaScript engine).
// Storage: store/sqlite (local), store/postgres. Tools: tools/web, tools/doc.
// Front-end: frontend/telegram plus the server package's REST/SSE surface.
//
// See cmd/relayd for the HTTP daemon and cmd/relaybot for the chat front-end.
package relay
