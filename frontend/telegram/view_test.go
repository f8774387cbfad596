package telegram

import (
	"strings"
	"testing"

	relay "github.com/nevindra/relay"
)

func TestRenderViewRunning(t *testing.T) {
	view := relay.TaskView{Status: relay.StatusRunning, StatusMessage: "Thinking..."}
	out := RenderView(view)
	if !strings.Contains(out, "⏳ Thinking...") {
		t.Errorf("unexpected render: %s", out)
	}
}

func TestRenderViewCompleted(t *testing.T) {
	view := relay.TaskView{
		Status:       relay.StatusCompleted,
		ToolResults:  []string{"✅ github.issues.list → [1,2]"},
		AgentMessage: "**Two** issues open.",
	}
	out := RenderView(view)
	if !strings.Contains(out, "✅ <b>Completed</b>") {
		t.Errorf("missing completed header: %s", out)
	}
	if !strings.Contains(out, "github.issues.list") {
		t.Errorf("missing tool result line: %s", out)
	}
	if !strings.Contains(out, "<b>Two</b>") {
		t.Errorf("agent message not rendered as HTML: %s", out)
	}
}

func TestRenderViewFailed(t *testing.T) {
	view := relay.TaskView{Status: relay.StatusFailed, Error: "model request failed: 500 <oops>"}
	out := RenderView(view)
	if !strings.Contains(out, "❌ <b>Failed</b>") {
		t.Errorf("missing failed header: %s", out)
	}
	if !strings.Contains(out, "&lt;oops&gt;") {
		t.Errorf("error text not escaped: %s", out)
	}
}

func TestRenderViewPendingApproval(t *testing.T) {
	view := relay.TaskView{
		Status:        relay.StatusRunning,
		StatusMessage: "Waiting for approval...",
		PendingApprovals: []relay.ApprovalPrompt{{
			ID:      "call-1",
			Preview: relay.ApprovalPreview{Title: "Delete issues 42", Details: "github.issues.delete"},
		}},
	}
	out := RenderView(view)
	for _, want := range []string{"🔐", "Delete issues 42", "/approve call-1", "/deny call-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in: %s", want, out)
		}
	}
}
