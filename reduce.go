package relay

import (
	"fmt"
	"slices"
)

// TaskView is the renderable projection of a task's event stream. Clients
// fold events into a TaskView with Reduce instead of interpreting event
// payloads themselves; the shape is part of the public contract.
type TaskView struct {
	Status           TaskStatus       `json:"status"`
	StatusMessage    string           `json:"statusMessage"`
	CodeBlocks       []string         `json:"codeBlocks"`
	ToolResults      []string         `json:"toolResults"`
	PendingApprovals []ApprovalPrompt `json:"pendingApprovals"`
	AgentMessage     string           `json:"agentMessage,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// NewTaskView returns the initial state for a running task.
func NewTaskView() TaskView {
	return TaskView{Status: StatusRunning}
}

// Reduce folds one event into the view and returns the next state. It is a
// pure function: the input state is never mutated, unknown event types pass
// through unchanged, and the same event sequence always yields the same
// view.
func Reduce(state TaskView, ev TaskEvent) TaskView {
	next := state
	next.CodeBlocks = slices.Clone(state.CodeBlocks)
	next.ToolResults = slices.Clone(state.ToolResults)
	next.PendingApprovals = slices.Clone(state.PendingApprovals)

	switch ev.Type {
	case EventStatus:
		next.StatusMessage = ev.Message
	case EventCodeGenerated:
		next.CodeBlocks = append(next.CodeBlocks, ev.Code)
		next.StatusMessage = "Running code..."
	case EventCodeResult:
		// The per-call detail arrives as tool_result events; the aggregate
		// outcome only moves the status line.
		if ev.Result != nil && ev.Result.Status == "failed" {
			next.StatusMessage = "Code failed, retrying..."
		}
	case EventApprovalRequest:
		if ev.Approval != nil {
			next.PendingApprovals = append(next.PendingApprovals, *ev.Approval)
		}
		next.StatusMessage = "Waiting for approval..."
	case EventApprovalResolved:
		next.PendingApprovals = slices.DeleteFunc(next.PendingApprovals, func(p ApprovalPrompt) bool {
			return p.ID == ev.CallID
		})
		if ev.Decision == DecisionDenied {
			next.StatusMessage = "Denied, continuing..."
		} else {
			next.StatusMessage = "Approved, continuing..."
		}
	case EventToolResult:
		if ev.Receipt != nil {
			next.ToolResults = append(next.ToolResults, receiptLine(*ev.Receipt))
		}
	case EventAgentMessage:
		next.AgentMessage = ev.Text
		next.StatusMessage = "Done"
	case EventError:
		next.Status = StatusFailed
		next.Error = ev.Error
		next.StatusMessage = "Failed"
	case EventCompleted:
		next.Status = StatusCompleted
		next.StatusMessage = "Completed"
	}
	return next
}

// ReduceAll folds a full event log from the initial state.
func ReduceAll(events []TaskEvent) TaskView {
	state := NewTaskView()
	for _, ev := range events {
		state = Reduce(state, ev)
	}
	return state
}

// receiptLine renders a receipt as an icon-prefixed one-line summary.
func receiptLine(r Receipt) string {
	icon := "✅"
	switch r.Status {
	case ReceiptDenied:
		icon = "⛔"
	case ReceiptFailed:
		icon = "❌"
	}
	line := fmt.Sprintf("%s %s", icon, r.ToolPath)
	switch r.Status {
	case ReceiptDenied:
		line += " (denied)"
	case ReceiptFailed:
		if r.Error != "" {
			line += ": " + r.Error
		}
	default:
		if r.OutputPreview != "" {
			line += " → " + r.OutputPreview
		}
	}
	return line
}
