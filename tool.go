package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ApprovalMode controls whether a tool call runs immediately or waits for a
// decision from the approval engine.
type ApprovalMode string

const (
	// ApprovalAuto runs the tool without asking anyone.
	ApprovalAuto ApprovalMode = "auto"
	// ApprovalRequired suspends the call until a human or rule decides.
	ApprovalRequired ApprovalMode = "required"
)

// RunFunc executes a tool with schema-validated input and returns a value
// matching the tool's returns schema. Return-side validation is not enforced.
type RunFunc func(ctx context.Context, input map[string]any) (any, error)

// ApprovalPreview is the human-facing presentation of a gated tool call.
type ApprovalPreview struct {
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Tool is a leaf of the tool tree: a schema-validated function with an
// approval mode. Tools are created once at init and read-only thereafter.
type Tool struct {
	Description string
	Approval    ApprovalMode
	Args        json.RawMessage // JSON Schema for the input
	Returns     json.RawMessage // JSON Schema for the output
	Run         RunFunc
	// FormatApproval overrides the inferred approval preview. Optional.
	FormatApproval func(input map[string]any) ApprovalPreview

	schema    *jsonschema.Schema
	schemaErr error
}

// Define constructs a tool leaf. Define is total: a malformed args schema is
// not reported here but surfaces as a validation failure on every call.
func Define(description string, approval ApprovalMode, args, returns json.RawMessage, run RunFunc) *Tool {
	t := &Tool{
		Description: description,
		Approval:    approval,
		Args:        args,
		Returns:     returns,
		Run:         run,
	}
	if approval == "" {
		t.Approval = ApprovalAuto
	}
	if len(args) > 0 {
		t.schema, t.schemaErr = jsonschema.CompileString("tool.args.json", string(args))
	}
	return t
}

// ValidateInput checks input against the tool's args schema.
// A tool with no schema accepts any input.
func (t *Tool) ValidateInput(input map[string]any) error {
	if t.schemaErr != nil {
		return fmt.Errorf("args schema invalid: %w", t.schemaErr)
	}
	if t.schema == nil {
		return nil
	}
	// The validator expects the generic form produced by encoding/json, so
	// round-trip the input to normalize Go-native values (ints, structs).
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("input not serializable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("input not serializable: %w", err)
	}
	if err := t.schema.Validate(decoded); err != nil {
		return fmt.Errorf("input invalid: %w", err)
	}
	return nil
}

// Node is either a *Tool (leaf) or a *Tree (subtree), never both at one key.
type Node interface{ isNode() }

func (*Tool) isNode() {}
func (*Tree) isNode() {}

// IsLeaf reports whether a node is a tool leaf.
func IsLeaf(n Node) bool {
	_, ok := n.(*Tool)
	return ok
}

// Tree is a finite, acyclic mapping from names to subtrees or tools.
// Insertion order is preserved so traversal and rendering are deterministic.
type Tree struct {
	keys  []string
	nodes map[string]Node
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[string]Node)}
}

// Set binds name to a node, replacing any existing binding.
// The original insertion position is kept on replacement.
func (t *Tree) Set(name string, n Node) {
	if _, ok := t.nodes[name]; !ok {
		t.keys = append(t.keys, name)
	}
	t.nodes[name] = n
}

// Get returns the node bound to name.
func (t *Tree) Get(name string) (Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// Len returns the number of direct children.
func (t *Tree) Len() int { return len(t.keys) }

// Keys returns the child names in insertion order.
func (t *Tree) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Lookup resolves a dot-path (e.g. "github.issues.close") to a tool leaf.
func (t *Tree) Lookup(path string) (*Tool, bool) {
	node := Node(t)
	for _, seg := range strings.Split(path, ".") {
		sub, ok := node.(*Tree)
		if !ok {
			return nil, false
		}
		node, ok = sub.Get(seg)
		if !ok {
			return nil, false
		}
	}
	tool, ok := node.(*Tool)
	return tool, ok
}

// Invoke validates input against the tool at path and executes it.
// This is the single dynamic entry point the sandbox sugar compiles to:
// tools.foo.bar(x) is Invoke("foo.bar", x).
func (t *Tree) Invoke(ctx context.Context, path string, input map[string]any) (any, error) {
	tool, ok := t.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", path)
	}
	if err := tool.ValidateInput(input); err != nil {
		return nil, err
	}
	return tool.Run(ctx, input)
}

// Merge combines trees recursively. Subtrees at the same key merge;
// conflicts at leaves resolve last-writer-wins. Merge never mutates its
// inputs: shared subtrees are copied on write.
func Merge(trees ...*Tree) *Tree {
	out := NewTree()
	for _, t := range trees {
		if t == nil {
			continue
		}
		for _, k := range t.keys {
			mergeInto(out, k, t.nodes[k])
		}
	}
	return out
}

func mergeInto(dst *Tree, name string, n Node) {
	sub, ok := n.(*Tree)
	if !ok {
		// Leaf: last writer wins, including over an existing subtree.
		dst.Set(name, n)
		return
	}
	existing, ok := dst.Get(name)
	target, isTree := existing.(*Tree)
	if !ok || !isTree {
		target = NewTree()
		dst.Set(name, target)
	}
	for _, k := range sub.keys {
		mergeInto(target, k, sub.nodes[k])
	}
}

// Walk visits every tool exactly once in stable depth-first insertion order.
// Paths are dot-joined from the root.
func Walk(t *Tree, visit func(path string, tool *Tool)) {
	walk(t, "", visit)
}

func walk(t *Tree, prefix string, visit func(path string, tool *Tool)) {
	for _, k := range t.keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch n := t.nodes[k].(type) {
		case *Tool:
			visit(path, n)
		case *Tree:
			walk(n, path, visit)
		}
	}
}

// Definitions renders the tree as a flat provider-facing tool list.
// Dots are preserved in names; providers that restrict the character set
// sanitize on their side.
func (t *Tree) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	Walk(t, func(path string, tool *Tool) {
		params := tool.Args
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		defs = append(defs, ToolDefinition{
			Name:        path,
			Description: tool.Description,
			Parameters:  params,
		})
	})
	return defs
}
