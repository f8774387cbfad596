package relay

import "context"

// CodeRunner evaluates model-written code in an isolated scope where the
// only reachable name is a materialized tools object. Implementations
// control the engine; the tool-call semantics below are the contract.
type CodeRunner interface {
	// Run evaluates code. It never fails at the Go level: every outcome,
	// including timeouts and unhandled exceptions, is reported in RunResult.
	Run(ctx context.Context, code string, rctx RunContext) RunResult
}

// ApprovalFunc suspends a gated tool call until a decision arrives.
// It returns an error only when the wait itself is abandoned (task
// cancelled, engine shut down); a denial is a normal Decision.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// RunContext supplies the runner with everything a single evaluation needs.
type RunContext struct {
	// Tools is the tree materialized into the sandbox as `tools`.
	Tools *Tree
	// RequestApproval mediates calls to approval-required tools.
	// Nil means every gated call is denied.
	RequestApproval ApprovalFunc
	// OnReceipt is invoked for each receipt as it is recorded, in call
	// order. Optional.
	OnReceipt func(Receipt)
}

// RunResult is the complete outcome of one evaluation.
type RunResult struct {
	// OK is true iff the code completed without an unhandled exception and
	// no receipt was denied.
	OK bool `json:"ok"`
	// Value is the JSON-stringified completion value of the code, "" for
	// undefined.
	Value string `json:"value,omitempty"`
	// Error describes the failure ("timeout", an exception message, …).
	Error string `json:"error,omitempty"`
	// Receipts lists every tool invocation in sequential call order,
	// including those made before a failure.
	Receipts []Receipt `json:"receipts"`
}
