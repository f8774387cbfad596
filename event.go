package relay

// EventType identifies the kind of task event.
type EventType string

const (
	// EventStatus carries a human-readable progress message.
	EventStatus EventType = "status"
	// EventCodeGenerated signals the model produced a program to run.
	EventCodeGenerated EventType = "code_generated"
	// EventCodeResult carries the outcome of one sandbox evaluation.
	EventCodeResult EventType = "code_result"
	// EventApprovalRequest signals a gated tool call awaiting a decision.
	EventApprovalRequest EventType = "approval_request"
	// EventApprovalResolved signals a decision was delivered.
	EventApprovalResolved EventType = "approval_resolved"
	// EventToolResult carries the receipt of a completed tool invocation.
	EventToolResult EventType = "tool_result"
	// EventAgentMessage carries the final (or interim) assistant text.
	EventAgentMessage EventType = "agent_message"
	// EventError signals terminal failure. Terminal marker for the stream.
	EventError EventType = "error"
	// EventCompleted signals the task finished. Terminal marker for the stream.
	EventCompleted EventType = "completed"
)

// IsTerminalEvent reports whether ev closes the event stream.
func IsTerminalEvent(t EventType) bool {
	return t == EventCompleted || t == EventError
}

// CodeOutcome is the payload of a code_result event.
type CodeOutcome struct {
	TaskID   string `json:"task_id,omitempty"`
	Status   string `json:"status"` // "completed" or "failed"
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ApprovalPrompt is the payload of an approval_request event.
type ApprovalPrompt struct {
	ID       string          `json:"id"`
	ToolPath string          `json:"tool_path"`
	Input    map[string]any  `json:"input"`
	Preview  ApprovalPreview `json:"preview"`
}

// TaskEvent is the discriminated record published by the agent loop and
// consumed by subscribers. Exactly the fields for the given Type are set.
type TaskEvent struct {
	Type EventType `json:"type"`

	Message  string          `json:"message,omitempty"`  // status
	Code     string          `json:"code,omitempty"`     // code_generated
	Result   *CodeOutcome    `json:"result,omitempty"`   // code_result
	Approval *ApprovalPrompt `json:"approval,omitempty"` // approval_request
	CallID   string          `json:"call_id,omitempty"`  // approval_resolved
	Decision Decision        `json:"decision,omitempty"` // approval_resolved
	Receipt  *Receipt        `json:"receipt,omitempty"`  // tool_result
	Text     string          `json:"text,omitempty"`     // agent_message
	Error    string          `json:"error,omitempty"`    // error
}

// Event constructors keep call sites terse and the payload shape in one place.

func StatusEvent(msg string) TaskEvent {
	return TaskEvent{Type: EventStatus, Message: msg}
}

func CodeGeneratedEvent(code string) TaskEvent {
	return TaskEvent{Type: EventCodeGenerated, Code: code}
}

func CodeResultEvent(outcome CodeOutcome) TaskEvent {
	return TaskEvent{Type: EventCodeResult, Result: &outcome}
}

func ApprovalRequestEvent(prompt ApprovalPrompt) TaskEvent {
	return TaskEvent{Type: EventApprovalRequest, Approval: &prompt}
}

func ApprovalResolvedEvent(callID string, d Decision) TaskEvent {
	return TaskEvent{Type: EventApprovalResolved, CallID: callID, Decision: d}
}

func ToolResultEvent(r Receipt) TaskEvent {
	return TaskEvent{Type: EventToolResult, Receipt: &r}
}

func AgentMessageEvent(text string) TaskEvent {
	return TaskEvent{Type: EventAgentMessage, Text: text}
}

func ErrorEvent(msg string) TaskEvent {
	return TaskEvent{Type: EventError, Error: msg}
}

func CompletedEvent() TaskEvent {
	return TaskEvent{Type: EventCompleted}
}
