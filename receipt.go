package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Decision is how a gated call was (or will be) resolved.
type Decision string

const (
	// DecisionAuto means the tool's approval mode did not require a decision.
	DecisionAuto Decision = "auto"
	// DecisionApproved means a human or rule allowed the call.
	DecisionApproved Decision = "approved"
	// DecisionDenied means a human or rule blocked the call.
	DecisionDenied Decision = "denied"
)

// ReceiptStatus is the outcome of a single tool invocation.
type ReceiptStatus string

const (
	ReceiptSucceeded ReceiptStatus = "succeeded"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptDenied    ReceiptStatus = "denied"
)

// maxPreviewLen bounds input/output previews stored on receipts so the audit
// log stays small regardless of payload size.
const maxPreviewLen = 180

// Receipt is the immutable audit record of one tool invocation.
type Receipt struct {
	CallID        string        `json:"call_id"`
	ToolPath      string        `json:"tool_path"`
	Approval      ApprovalMode  `json:"approval"`
	Decision      Decision      `json:"decision"`
	Status        ReceiptStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	InputPreview  string        `json:"input_preview"`
	OutputPreview string        `json:"output_preview,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Preview renders v as a bounded single-line string for receipts.
// nil and non-serializable values are tolerated, never an error.
func Preview(v any) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return truncate("<unserializable>", maxPreviewLen)
	}
	return truncate(string(data), maxPreviewLen)
}

// FlattenError renders an error chain as "msg (cause: …)" for receipts.
func FlattenError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	// fmt.Errorf("%w") already embeds the cause text; only surface causes
	// that a custom Error() hid.
	if cause := errors.Unwrap(err); cause != nil && !strings.Contains(msg, cause.Error()) {
		return msg + " (cause: " + FlattenError(cause) + ")"
	}
	return msg
}

// truncate shortens s to n runes, appending an ellipsis when trimmed.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
