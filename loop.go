package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// defaultMaxRounds bounds code executions per task. Tasks that legitimately
// need more are better split into follow-up prompts.
const defaultMaxRounds = 20

// runCodeTool is the single provider-facing tool the loop exposes. The
// model acts on the world only by writing programs against the tool tree.
const runCodeTool = "run_code"

var runCodeDefinition = ToolDefinition{
	Name:        runCodeTool,
	Description: "Execute a JavaScript program against the available tools. The program runs in a sandbox where `tools` is the only global. Call tools with `await`, e.g. `await tools.github.issues.list({repo: \"x\"})`. The program runs inside an async function; use `return` to report a result.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"The JavaScript program to execute."}},"required":["code"]}`),
}

// Loop drives one task: converse with the provider, execute the code it
// produces, feed outcomes back, repeat until the model answers in plain
// text or the round budget runs out.
type Loop struct {
	Provider  Provider
	Tools     *Tree
	Runner    CodeRunner
	MaxRounds int
	Logger    *slog.Logger
	Tracer    Tracer

	// Publish appends an event to the task's log. Required.
	Publish func(TaskEvent)
	// RequestApproval mediates gated tool calls inside the sandbox.
	RequestApproval ApprovalFunc
}

// Run executes the loop to completion. Every outcome, including provider
// failures and budget exhaustion, is reported through Publish; Run itself
// never returns an error. A cancelled ctx stops the loop silently (the
// cancel path appends no events).
func (l *Loop) Run(ctx context.Context, prompt string) {
	logger := l.Logger
	if logger == nil {
		logger = nopLogger
	}
	maxRounds := l.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	messages := []ChatMessage{
		SystemMessage(l.systemPrompt()),
		UserMessage(prompt),
	}
	req := ChatRequest{Tools: []ToolDefinition{runCodeDefinition}}

	for round := 1; ; round++ {
		if ctx.Err() != nil {
			return
		}
		if round > maxRounds {
			l.Publish(AgentMessageEvent("Reached maximum number of code executions."))
			l.Publish(CompletedEvent())
			return
		}

		l.Publish(StatusEvent("Thinking..."))

		var span Span
		genCtx := ctx
		if l.Tracer != nil {
			genCtx, span = l.Tracer.Start(ctx, "loop.round", IntAttr("round", round))
		}

		req.Messages = messages
		resp, err := l.Provider.Generate(genCtx, req)
		if span != nil {
			if err != nil {
				span.Error(err)
			}
			span.SetAttr(
				IntAttr("tokens.input", resp.Usage.InputTokens),
				IntAttr("tokens.output", resp.Usage.OutputTokens),
			)
			span.End()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("generation failed", "round", round, "error", err)
			l.Publish(ErrorEvent("model request failed: " + err.Error()))
			l.Publish(CompletedEvent())
			return
		}

		if len(resp.ToolCalls) == 0 {
			l.Publish(AgentMessageEvent(resp.Content))
			l.Publish(CompletedEvent())
			return
		}

		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := l.handleToolCall(ctx, call)
			if ctx.Err() != nil {
				return
			}
			messages = append(messages, ToolResultMessage(call.ID, result))
		}
	}
}

// handleToolCall executes one tool call from the model and returns the
// content to feed back as the tool result.
func (l *Loop) handleToolCall(ctx context.Context, call ToolCall) string {
	if call.Name != runCodeTool {
		// The catalog only advertises run_code; anything else is a model
		// hallucination worth correcting rather than failing the task over.
		return fmt.Sprintf("unknown tool %q: only %s is available", call.Name, runCodeTool)
	}

	var args struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil || args.Code == "" {
		return "invalid run_code arguments: expected {\"code\": \"...\"}"
	}

	l.Publish(CodeGeneratedEvent(args.Code))
	l.Publish(StatusEvent("Running code..."))

	runCtx := ctx
	var span Span
	if l.Tracer != nil {
		runCtx, span = l.Tracer.Start(ctx, "runner.run")
	}
	res := l.Runner.Run(runCtx, args.Code, RunContext{
		Tools:           l.Tools,
		RequestApproval: l.RequestApproval,
		OnReceipt:       func(r Receipt) { l.Publish(ToolResultEvent(r)) },
	})
	if span != nil {
		span.SetAttr(
			BoolAttr("ok", res.OK),
			IntAttr("receipts", len(res.Receipts)),
		)
		span.End()
	}

	outcome := outcomeOf(res)
	l.Publish(CodeResultEvent(outcome))

	body, err := json.Marshal(outcome)
	if err != nil {
		return "code execution finished but the outcome could not be serialized"
	}
	return string(body)
}

// outcomeOf maps a runner result onto the exec-style outcome the model and
// event consumers see.
func outcomeOf(res RunResult) CodeOutcome {
	out := CodeOutcome{
		Status: "completed",
		Stdout: res.Value,
	}
	if !res.OK {
		out.Status = "failed"
		out.ExitCode = 1
		out.Error = res.Error
		out.Stderr = res.Error
	}
	return out
}

// systemPrompt renders the role framing plus the live tool catalog.
func (l *Loop) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are a capable assistant that accomplishes tasks by writing JavaScript programs.

You have exactly one tool: run_code. It executes your program in a sandbox where a single global object named ` + "`tools`" + ` exposes every capability you have. There is no network, no filesystem, and no other global; if a capability is not in the catalog below, you do not have it.

Rules:
- Every tool call is async: always use await.
- Your program runs inside an async function: use ` + "`return`" + ` to produce the result you want to see.
- Tools marked "approval required" suspend until a human decides; a denial throws. Batch independent calls where you can.
- When you have the answer, reply in plain text without calling run_code.

Available tools:
`)
	b.WriteString(RenderSignatures(l.Tools))
	b.WriteString("\nType declarations for the sandbox:\n\n")
	b.WriteString(RenderDeclarations(l.Tools))
	return b.String()
}
