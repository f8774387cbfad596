package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// collectEvents returns a Publish func and the slice it appends to.
func collectEvents() (func(TaskEvent), *[]TaskEvent) {
	var events []TaskEvent
	return func(ev TaskEvent) { events = append(events, ev) }, &events
}

func TestLoopPlainTextAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{{Content: "the answer"}}}
	publish, events := collectEvents()

	loop := &Loop{Provider: provider, Tools: testTree(), Runner: &echoRunner{}, Publish: publish}
	loop.Run(context.Background(), "question")

	types := eventTypes(*events)
	want := []EventType{EventStatus, EventAgentMessage, EventCompleted}
	if len(types) != len(want) {
		t.Fatalf("events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
	if (*events)[1].Text != "the answer" {
		t.Errorf("agent message = %q", (*events)[1].Text)
	}
}

func TestLoopCodeRound(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{runCodeCall(t, "tc-1", `return await tools.github.issues.list({repo: "x"})`)}},
		{Content: "two issues"},
	}}
	runner := &echoRunner{
		result:   RunResult{OK: true, Value: "[1,2]"},
		receipts: []Receipt{{CallID: "call-1", ToolPath: "github.issues.list", Status: ReceiptSucceeded}},
	}
	publish, events := collectEvents()

	loop := &Loop{Provider: provider, Tools: testTree(), Runner: runner, Publish: publish}
	loop.Run(context.Background(), "count issues")

	types := eventTypes(*events)
	want := []EventType{
		EventStatus, EventCodeGenerated, EventStatus, EventToolResult,
		EventCodeResult, EventStatus, EventAgentMessage, EventCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}

	// The outcome fed back to the model is the exec-style JSON.
	if provider.requestCount() != 2 {
		t.Fatalf("expected 2 generations, got %d", provider.requestCount())
	}
	last := provider.requests[1].Messages
	toolMsg := last[len(last)-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "tc-1" {
		t.Fatalf("unexpected feedback message %+v", toolMsg)
	}
	var outcome CodeOutcome
	if err := json.Unmarshal([]byte(toolMsg.Content), &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.Status != "completed" || outcome.Stdout != "[1,2]" {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestLoopFailedRunFeedsErrorBack(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{runCodeCall(t, "tc-1", "throw new Error('nope')")}},
		{Content: "recovered"},
	}}
	runner := &echoRunner{result: RunResult{OK: false, Error: "Error: nope"}}
	publish, events := collectEvents()

	loop := &Loop{Provider: provider, Tools: testTree(), Runner: runner, Publish: publish}
	loop.Run(context.Background(), "x")

	var outcome *CodeOutcome
	for _, ev := range *events {
		if ev.Type == EventCodeResult {
			outcome = ev.Result
		}
	}
	if outcome == nil {
		t.Fatal("no code_result event")
	}
	if outcome.Status != "failed" || outcome.ExitCode != 1 || outcome.Error != "Error: nope" {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestLoopBudgetExhaustion(t *testing.T) {
	// The provider always asks for another run; the loop must cut it off.
	alwaysCode := make([]ChatResponse, 10)
	for i := range alwaysCode {
		alwaysCode[i] = ChatResponse{ToolCalls: []ToolCall{runCodeCall(t, "tc", "1")}}
	}
	provider := &scriptedProvider{responses: alwaysCode}
	publish, events := collectEvents()

	loop := &Loop{Provider: provider, Tools: testTree(), Runner: &echoRunner{result: RunResult{OK: true}}, MaxRounds: 3, Publish: publish}
	loop.Run(context.Background(), "x")

	if provider.requestCount() != 3 {
		t.Errorf("expected exactly 3 generations, got %d", provider.requestCount())
	}
	last := (*events)[len(*events)-1]
	msg := (*events)[len(*events)-2]
	if last.Type != EventCompleted {
		t.Errorf("final event = %q, want completed", last.Type)
	}
	if msg.Type != EventAgentMessage || msg.Text != "Reached maximum number of code executions." {
		t.Errorf("budget message = %+v", msg)
	}
}

func TestLoopProviderFailure(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	publish, events := collectEvents()

	loop := &Loop{Provider: provider, Tools: testTree(), Runner: &echoRunner{}, Publish: publish}
	loop.Run(context.Background(), "x")

	var errEv *TaskEvent
	for i := range *events {
		if (*events)[i].Type == EventError {
			errEv = &(*events)[i]
		}
	}
	if errEv == nil {
		t.Fatal("no error event")
	}
	if !strings.Contains(errEv.Error, "model request failed") || !strings.Contains(errEv.Error, "rate limited") {
		t.Errorf("error text = %q", errEv.Error)
	}
}

func TestLoopCancelledEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{}
	publish, events := collectEvents()
	loop := &Loop{Provider: provider, Tools: testTree(), Runner: &echoRunner{}, Publish: publish}
	loop.Run(ctx, "x")

	if len(*events) != 0 {
		t.Errorf("cancelled loop emitted %v", eventTypes(*events))
	}
	if provider.requestCount() != 0 {
		t.Error("cancelled loop still called the provider")
	}
}

func TestLoopUnknownToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "tc-1", Name: "shell_exec", Args: json.RawMessage(`{}`)}}},
		{Content: "ok"},
	}}
	publish, _ := collectEvents()

	loop := &Loop{Provider: provider, Tools: testTree(), Runner: &echoRunner{}, Publish: publish}
	loop.Run(context.Background(), "x")

	last := provider.requests[1].Messages
	toolMsg := last[len(last)-1]
	if !strings.Contains(toolMsg.Content, "unknown tool") {
		t.Errorf("hallucinated tool should be corrected, got %q", toolMsg.Content)
	}
}

func TestSystemPromptCarriesCatalog(t *testing.T) {
	loop := &Loop{Tools: testTree()}
	prompt := loop.systemPrompt()
	for _, want := range []string{
		"run_code",
		"github.issues.list",
		"[approval required]",
		"declare const tools",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}
