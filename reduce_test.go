package relay

import (
	"strings"
	"testing"
)

func TestReduceLifecycle(t *testing.T) {
	events := []TaskEvent{
		StatusEvent("Thinking..."),
		CodeGeneratedEvent(`await tools.github.issues.list({repo: "x"})`),
		ToolResultEvent(Receipt{ToolPath: "github.issues.list", Status: ReceiptSucceeded, OutputPreview: "[1,2]"}),
		CodeResultEvent(CodeOutcome{Status: "completed", Stdout: "[1,2]"}),
		AgentMessageEvent("There are two open issues."),
		CompletedEvent(),
	}

	view := ReduceAll(events)
	if view.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", view.Status)
	}
	if len(view.CodeBlocks) != 1 {
		t.Errorf("expected 1 code block, got %d", len(view.CodeBlocks))
	}
	if len(view.ToolResults) != 1 || !strings.Contains(view.ToolResults[0], "github.issues.list") {
		t.Errorf("unexpected tool results %v", view.ToolResults)
	}
	if view.AgentMessage != "There are two open issues." {
		t.Errorf("agent message not captured: %q", view.AgentMessage)
	}
	if view.StatusMessage != "Completed" {
		t.Errorf("status message = %q", view.StatusMessage)
	}
}

func TestReduceApprovalFlow(t *testing.T) {
	view := NewTaskView()
	view = Reduce(view, ApprovalRequestEvent(ApprovalPrompt{ID: "call-1", ToolPath: "mail.send"}))
	if len(view.PendingApprovals) != 1 || view.StatusMessage != "Waiting for approval..." {
		t.Fatalf("approval request not reflected: %+v", view)
	}

	view = Reduce(view, ApprovalResolvedEvent("call-1", DecisionDenied))
	if len(view.PendingApprovals) != 0 {
		t.Error("resolved approval still pending")
	}
	if view.StatusMessage != "Denied, continuing..." {
		t.Errorf("status message = %q", view.StatusMessage)
	}

	// Resolving an unknown callId is a no-op on the list.
	view = Reduce(view, ApprovalResolvedEvent("call-unknown", DecisionApproved))
	if len(view.PendingApprovals) != 0 {
		t.Error("unexpected pending approvals")
	}
}

func TestReduceError(t *testing.T) {
	view := ReduceAll([]TaskEvent{
		StatusEvent("Thinking..."),
		ErrorEvent("model request failed: 500"),
	})
	if view.Status != StatusFailed {
		t.Errorf("status = %q, want failed", view.Status)
	}
	if view.Error != "model request failed: 500" {
		t.Errorf("error = %q", view.Error)
	}
}

func TestReduceIsPure(t *testing.T) {
	base := NewTaskView()
	base = Reduce(base, CodeGeneratedEvent("code-1"))
	base = Reduce(base, ApprovalRequestEvent(ApprovalPrompt{ID: "call-1"}))

	snapshotBlocks := len(base.CodeBlocks)
	snapshotPending := len(base.PendingApprovals)

	_ = Reduce(base, CodeGeneratedEvent("code-2"))
	_ = Reduce(base, ApprovalResolvedEvent("call-1", DecisionApproved))

	if len(base.CodeBlocks) != snapshotBlocks {
		t.Error("Reduce mutated input CodeBlocks")
	}
	if len(base.PendingApprovals) != snapshotPending {
		t.Error("Reduce mutated input PendingApprovals")
	}
}

func TestReduceDeterministic(t *testing.T) {
	events := []TaskEvent{
		StatusEvent("Thinking..."),
		CodeGeneratedEvent("x"),
		CodeResultEvent(CodeOutcome{Status: "failed", ExitCode: 1, Error: "boom"}),
		CompletedEvent(),
	}
	a := ReduceAll(events)
	b := ReduceAll(events)
	if a.StatusMessage != b.StatusMessage || a.Status != b.Status || len(a.CodeBlocks) != len(b.CodeBlocks) {
		t.Error("same event sequence produced different views")
	}
}

func TestReceiptLine(t *testing.T) {
	tests := []struct {
		name    string
		receipt Receipt
		want    []string
	}{
		{"success", Receipt{ToolPath: "a.b", Status: ReceiptSucceeded, OutputPreview: `{"ok":true}`}, []string{"✅", "a.b", `→ {"ok":true}`}},
		{"denied", Receipt{ToolPath: "a.b", Status: ReceiptDenied}, []string{"⛔", "(denied)"}},
		{"failed", Receipt{ToolPath: "a.b", Status: ReceiptFailed, Error: "boom"}, []string{"❌", "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := receiptLine(tt.receipt)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("receiptLine = %q, missing %q", line, want)
				}
			}
		})
	}
}
