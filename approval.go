package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ApprovalRequest asks for a decision on one gated tool call.
type ApprovalRequest struct {
	CallID   string          `json:"call_id"`
	ToolPath string          `json:"tool_path"`
	Input    map[string]any  `json:"input"`
	Preview  ApprovalPreview `json:"preview"`
}

// PendingApproval is one registered wait: a callId bound to a task and a
// single-shot resolver that unblocks exactly one waiter.
type PendingApproval struct {
	CallID   string          `json:"call_id"`
	TaskID   string          `json:"task_id"`
	ToolPath string          `json:"tool_path"`
	Input    map[string]any  `json:"input"`
	Preview  ApprovalPreview `json:"preview"`

	// done delivers the decision to the single waiter. Buffered(1) so
	// resolving never blocks, even when the waiter already gave up.
	done     chan Decision
	resolved bool // guarded by the engine mutex
}

// Await blocks until a decision is delivered or ctx is cancelled.
func (p *PendingApproval) Await(ctx context.Context) (Decision, error) {
	select {
	case d := <-p.done:
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RuleOperator compares an extracted input field against a rule value.
type RuleOperator string

const (
	OpEquals      RuleOperator = "equals"
	OpNotEquals   RuleOperator = "not_equals"
	OpIncludes    RuleOperator = "includes"
	OpNotIncludes RuleOperator = "not_includes"
)

// Rule auto-resolves approvals on one task. Order of addition is priority:
// the first matching rule wins per pending approval.
type Rule struct {
	ID       string       `json:"id"`
	ToolPath string       `json:"tool_path"` // exact match
	Field    string       `json:"field"`     // dot-path into the input
	Operator RuleOperator `json:"operator"`
	Value    string       `json:"value"`
	Decision Decision     `json:"decision"` // approved or denied
}

// Valid reports whether the rule is well-formed.
func (r Rule) Valid() error {
	switch r.Operator {
	case OpEquals, OpNotEquals, OpIncludes, OpNotIncludes:
	default:
		return fmt.Errorf("unknown operator %q", r.Operator)
	}
	switch r.Decision {
	case DecisionApproved, DecisionDenied:
	default:
		return fmt.Errorf("rule decision must be approved or denied, got %q", r.Decision)
	}
	if r.ToolPath == "" || r.Field == "" {
		return fmt.Errorf("rule requires tool_path and field")
	}
	return nil
}

// ApprovalEngine is the per-process rendezvous between runners (waiters)
// and external resolvers (deciders), plus the per-task rule tables.
// All methods are safe for concurrent use.
type ApprovalEngine struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval // callId → entry
	order   []string                    // callIds in registration order
	rules   map[string][]Rule           // taskId → rules in insertion order
}

// NewApprovalEngine creates an empty engine.
func NewApprovalEngine() *ApprovalEngine {
	return &ApprovalEngine{
		pending: make(map[string]*PendingApproval),
		rules:   make(map[string][]Rule),
	}
}

// Register binds a callId to a task and returns the entry to Await on.
// The task's existing rules are consulted first: if one matches, the entry
// comes back already resolved and is never listed as pending.
func (e *ApprovalEngine) Register(taskID string, req ApprovalRequest) *PendingApproval {
	p := &PendingApproval{
		CallID:   req.CallID,
		TaskID:   taskID,
		ToolPath: req.ToolPath,
		Input:    req.Input,
		Preview:  req.Preview,
		done:     make(chan Decision, 1),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules[taskID] {
		if matchRule(r, p) {
			p.resolved = true
			p.done <- r.Decision
			return p
		}
	}
	e.pending[req.CallID] = p
	e.order = append(e.order, req.CallID)
	return p
}

// Resolve delivers a decision to the single waiter and removes the entry.
// Atomic and at-most-once: returns false if callId is unknown or already
// resolved.
func (e *ApprovalEngine) Resolve(callID string, d Decision) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(callID, d)
}

func (e *ApprovalEngine) resolveLocked(callID string, d Decision) bool {
	p, ok := e.pending[callID]
	if !ok || p.resolved {
		return false
	}
	p.resolved = true
	p.done <- d
	delete(e.pending, callID)
	return true
}

// ListPending returns open approvals in registration order.
// Empty taskID lists every task's.
func (e *ApprovalEngine) ListPending(taskID string) []*PendingApproval {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*PendingApproval
	for _, id := range e.order {
		p, ok := e.pending[id]
		if !ok {
			continue
		}
		if taskID == "" || p.TaskID == taskID {
			out = append(out, p)
		}
	}
	return out
}

// AddRule appends a rule to the task's table and immediately evaluates it
// against every pending approval for that task, resolving matches with the
// rule's decision. Returns the stored rule (with id assigned) and the
// callIds it resolved. Rules never apply retroactively to closed approvals.
func (e *ApprovalEngine) AddRule(taskID string, r Rule) (Rule, []string, error) {
	if err := r.Valid(); err != nil {
		return Rule{}, nil, err
	}
	if r.ID == "" {
		r.ID = "rule-" + NewID()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[taskID] = append(e.rules[taskID], r)

	var resolved []string
	for _, id := range e.order {
		p, ok := e.pending[id]
		if !ok || p.TaskID != taskID {
			continue
		}
		if matchRule(r, p) && e.resolveLocked(id, r.Decision) {
			resolved = append(resolved, id)
		}
	}
	return r, resolved, nil
}

// Abort resolves every pending approval of a task with a denial. Called on
// terminal task transitions so no runner waits forever.
func (e *ApprovalEngine) Abort(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.order {
		if p, ok := e.pending[id]; ok && p.TaskID == taskID {
			e.resolveLocked(id, DecisionDenied)
		}
	}
}

// matchRule reports whether a rule's condition holds for a pending approval.
// The field is extracted by dot-path and coerced to a string; values that
// cannot be coerced (objects, arrays, null, missing) never match.
func matchRule(r Rule, p *PendingApproval) bool {
	if r.ToolPath != p.ToolPath {
		return false
	}
	field, ok := extractField(p.Input, r.Field)
	if !ok {
		return false
	}
	got := norm.NFC.String(field)
	want := norm.NFC.String(r.Value)
	switch r.Operator {
	case OpEquals:
		return got == want
	case OpNotEquals:
		return got != want
	case OpIncludes:
		return strings.Contains(got, want)
	case OpNotIncludes:
		return !strings.Contains(got, want)
	default:
		return false
	}
}

// extractField walks a dot-path into the input and coerces the leaf to a
// string. Strings, numbers, and booleans coerce; anything else reports false.
func extractField(input map[string]any, path string) (string, bool) {
	var v any = input
	for _, seg := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		v, ok = m[seg]
		if !ok {
			return "", false
		}
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

// --- approval preview inference ---

// idKeys are the input keys scanned for candidate resource identifiers when
// a tool has no FormatApproval.
var idKeys = []string{"id", "ids", "name", "slug", "key", "idOrName"}

// verbGroups maps a presentation action to the leaf-segment verbs that
// imply it. Anything else presents as "execute".
var verbGroups = map[string][]string{
	"delete": {"delete", "remove", "destroy", "purge"},
	"create": {"create", "add", "insert", "provision"},
	"update": {"update", "set", "patch", "edit", "rename"},
	"read":   {"get", "list", "search", "find", "read"},
}

// PreviewFor builds the human-facing presentation of a gated call. A tool's
// FormatApproval wins; otherwise the action verb is inferred from the final
// path segment, the resource type from the penultimate segment, and the
// resource from well-known id keys in the input.
func PreviewFor(path string, tool *Tool, input map[string]any) ApprovalPreview {
	if tool != nil && tool.FormatApproval != nil {
		return tool.FormatApproval(input)
	}

	segs := strings.Split(path, ".")
	leaf := segs[len(segs)-1]
	resource := ""
	if len(segs) > 1 {
		resource = segs[len(segs)-2]
	}

	verb := "execute"
	for action, prefixes := range verbGroups {
		for _, pre := range prefixes {
			if leaf == pre || strings.HasPrefix(leaf, pre+"_") || strings.HasPrefix(leaf, pre+"-") {
				verb = action
			}
		}
	}

	title := verb
	if resource != "" {
		title += " " + resource
	}
	if id := candidateID(input); id != "" {
		title += " " + id
	}

	return ApprovalPreview{
		Title:   strings.ToUpper(title[:1]) + title[1:],
		Details: fmt.Sprintf("%s — %s", path, Preview(input)),
	}
}

// candidateID returns the first well-known identifier found in the input.
func candidateID(input map[string]any) string {
	for _, k := range idKeys {
		v, ok := input[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case []any:
			parts := make([]string, 0, len(t))
			for _, e := range t {
				if s, ok := e.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}

// ApprovalTTL bounds how long an unresolved approval may block a runner.
// The runner's own evaluation timeout usually fires first; this is the
// backstop for runners configured without one.
const ApprovalTTL = 30 * time.Minute
