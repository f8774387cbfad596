package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// scriptedProvider returns canned responses in order, then a final text
// answer forever after.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	err       error
	requests  []ChatRequest
}

func (p *scriptedProvider) Generate(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	if len(p.responses) == 0 {
		return ChatResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// echoRunner records the code it was asked to run and returns a fixed
// result, emitting any preloaded receipts through OnReceipt.
type echoRunner struct {
	mu       sync.Mutex
	codes    []string
	result   RunResult
	receipts []Receipt
}

func (r *echoRunner) Run(_ context.Context, code string, rctx RunContext) RunResult {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	for _, rec := range r.receipts {
		if rctx.OnReceipt != nil {
			rctx.OnReceipt(rec)
		}
	}
	res := r.result
	res.Receipts = r.receipts
	return res
}

// runCodeCall builds the tool call the model would make.
func runCodeCall(t *testing.T, id, code string) ToolCall {
	t.Helper()
	args, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		t.Fatal(err)
	}
	return ToolCall{ID: id, Name: runCodeTool, Args: args}
}

// testTree builds a small two-level tree with one auto and one gated tool.
func testTree() *Tree {
	issues := NewTree()
	issues.Set("list", Define("List issues", ApprovalAuto,
		json.RawMessage(`{"type":"object","properties":{"repo":{"type":"string"}},"required":["repo"]}`),
		json.RawMessage(`{"type":"array","items":{"type":"number"}}`),
		func(_ context.Context, input map[string]any) (any, error) {
			return []int{1, 2}, nil
		}))
	issues.Set("close", Define("Close an issue", ApprovalRequired,
		json.RawMessage(`{"type":"object","properties":{"number":{"type":"number"}},"required":["number"]}`),
		json.RawMessage(`{"type":"object","properties":{"closed":{"type":"boolean"}}}`),
		func(_ context.Context, input map[string]any) (any, error) {
			return map[string]any{"closed": true}, nil
		}))
	github := NewTree()
	github.Set("issues", issues)
	root := NewTree()
	root.Set("github", github)
	return root
}

// waitTerminal blocks until the task finishes or the test times out.
func waitTerminal(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not reach a terminal status", task.ID)
	}
}

// eventTypes projects a log onto its type sequence for compact assertions.
func eventTypes(events []TaskEvent) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
