package relay

import (
	"context"
	"testing"
	"time"
)

func newRequest(callID, path string, input map[string]any) ApprovalRequest {
	return ApprovalRequest{CallID: callID, ToolPath: path, Input: input}
}

func TestApprovalResolveOnce(t *testing.T) {
	e := NewApprovalEngine()
	p := e.Register("task-1", newRequest("call-1", "a.b", nil))

	if !e.Resolve("call-1", DecisionApproved) {
		t.Fatal("first resolve should succeed")
	}
	if e.Resolve("call-1", DecisionDenied) {
		t.Error("second resolve should report false")
	}
	if e.Resolve("call-unknown", DecisionApproved) {
		t.Error("unknown callId should report false")
	}

	d, err := p.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionApproved {
		t.Errorf("waiter got %q, want approved", d)
	}
}

func TestApprovalAwaitCancelled(t *testing.T) {
	e := NewApprovalEngine()
	p := e.Register("task-1", newRequest("call-1", "a.b", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); err == nil {
		t.Error("expected context error from abandoned wait")
	}
}

func TestApprovalListPending(t *testing.T) {
	e := NewApprovalEngine()
	e.Register("task-1", newRequest("call-1", "a.b", nil))
	e.Register("task-2", newRequest("call-2", "a.b", nil))
	e.Register("task-1", newRequest("call-3", "a.c", nil))

	all := e.ListPending("")
	if len(all) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(all))
	}
	if all[0].CallID != "call-1" || all[2].CallID != "call-3" {
		t.Error("pending not in registration order")
	}

	task1 := e.ListPending("task-1")
	if len(task1) != 2 {
		t.Errorf("expected 2 pending for task-1, got %d", len(task1))
	}

	e.Resolve("call-1", DecisionApproved)
	if len(e.ListPending("task-1")) != 1 {
		t.Error("resolved approval still listed")
	}
}

func TestRuleMatchesNewRegistration(t *testing.T) {
	e := NewApprovalEngine()
	_, _, err := e.AddRule("task-1", Rule{
		ToolPath: "github.issues.close",
		Field:    "repo",
		Operator: OpEquals,
		Value:    "sandbox",
		Decision: DecisionApproved,
	})
	if err != nil {
		t.Fatal(err)
	}

	p := e.Register("task-1", newRequest("call-1", "github.issues.close", map[string]any{"repo": "sandbox"}))
	d, err := p.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionApproved {
		t.Errorf("rule should auto-approve, got %q", d)
	}
	if len(e.ListPending("task-1")) != 0 {
		t.Error("rule-resolved approval must never appear pending")
	}

	// Different task: rule does not apply.
	e.Register("task-2", newRequest("call-2", "github.issues.close", map[string]any{"repo": "sandbox"}))
	if len(e.ListPending("task-2")) != 1 {
		t.Error("rules must be scoped to their task")
	}
}

func TestRuleResolvesExistingPending(t *testing.T) {
	e := NewApprovalEngine()
	p1 := e.Register("task-1", newRequest("call-1", "mail.send", map[string]any{"to": "a@example.com"}))
	e.Register("task-1", newRequest("call-2", "mail.send", map[string]any{"to": "b@other.org"}))

	_, resolved, err := e.AddRule("task-1", Rule{
		ToolPath: "mail.send",
		Field:    "to",
		Operator: OpIncludes,
		Value:    "example.com",
		Decision: DecisionDenied,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0] != "call-1" {
		t.Fatalf("expected rule to resolve call-1, got %v", resolved)
	}
	d, _ := p1.Await(context.Background())
	if d != DecisionDenied {
		t.Errorf("waiter got %q, want denied", d)
	}
	if len(e.ListPending("task-1")) != 1 {
		t.Error("non-matching approval should stay pending")
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	e := NewApprovalEngine()
	for _, r := range []Rule{
		{ToolPath: "x.run", Field: "env", Operator: OpEquals, Value: "prod", Decision: DecisionDenied},
		{ToolPath: "x.run", Field: "env", Operator: OpIncludes, Value: "pro", Decision: DecisionApproved},
	} {
		if _, _, err := e.AddRule("task-1", r); err != nil {
			t.Fatal(err)
		}
	}

	p := e.Register("task-1", newRequest("call-1", "x.run", map[string]any{"env": "prod"}))
	d, _ := p.Await(context.Background())
	if d != DecisionDenied {
		t.Errorf("first rule should win, got %q", d)
	}
}

func TestRuleValidation(t *testing.T) {
	e := NewApprovalEngine()
	tests := []Rule{
		{ToolPath: "a.b", Field: "f", Operator: "regex", Decision: DecisionApproved},
		{ToolPath: "a.b", Field: "f", Operator: OpEquals, Decision: "maybe"},
		{ToolPath: "", Field: "f", Operator: OpEquals, Decision: DecisionApproved},
		{ToolPath: "a.b", Field: "", Operator: OpEquals, Decision: DecisionApproved},
	}
	for i, r := range tests {
		if _, _, err := e.AddRule("task-1", r); err == nil {
			t.Errorf("rule %d should be rejected: %+v", i, r)
		}
	}
}

func TestMatchRuleFieldExtraction(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		input map[string]any
		want  bool
	}{
		{
			"nested path",
			Rule{ToolPath: "t", Field: "target.name", Operator: OpEquals, Value: "db1"},
			map[string]any{"target": map[string]any{"name": "db1"}},
			true,
		},
		{
			"number coerces",
			Rule{ToolPath: "t", Field: "count", Operator: OpEquals, Value: "3"},
			map[string]any{"count": float64(3)},
			true,
		},
		{
			"bool coerces",
			Rule{ToolPath: "t", Field: "force", Operator: OpEquals, Value: "true"},
			map[string]any{"force": true},
			true,
		},
		{
			"missing field never matches",
			Rule{ToolPath: "t", Field: "absent", Operator: OpNotEquals, Value: "x"},
			map[string]any{},
			false,
		},
		{
			"object never matches",
			Rule{ToolPath: "t", Field: "obj", Operator: OpNotEquals, Value: "x"},
			map[string]any{"obj": map[string]any{}},
			false,
		},
		{
			"not_includes",
			Rule{ToolPath: "t", Field: "url", Operator: OpNotIncludes, Value: "internal"},
			map[string]any{"url": "https://public.example.com"},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PendingApproval{ToolPath: "t", Input: tt.input}
			if got := matchRule(tt.rule, p); got != tt.want {
				t.Errorf("matchRule = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAbortDeniesAllForTask(t *testing.T) {
	e := NewApprovalEngine()
	p1 := e.Register("task-1", newRequest("call-1", "a.b", nil))
	p2 := e.Register("task-1", newRequest("call-2", "a.b", nil))
	other := e.Register("task-2", newRequest("call-3", "a.b", nil))

	e.Abort("task-1")

	for _, p := range []*PendingApproval{p1, p2} {
		d, err := p.Await(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if d != DecisionDenied {
			t.Errorf("aborted approval got %q, want denied", d)
		}
	}
	if len(e.ListPending("task-2")) != 1 {
		t.Error("abort must not touch other tasks")
	}
	_ = other
}
