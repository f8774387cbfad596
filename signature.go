package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RenderSignatures produces a deterministic one-line-per-tool catalog
// suitable for prompting and client display:
//
//	- github.issues.close({number: number}): Promise<{closed: boolean}> [approval required] — Close an issue
//
// Unknown schema shapes render as "unknown". The renderer never fails.
func RenderSignatures(t *Tree) string {
	var b strings.Builder
	Walk(t, func(path string, tool *Tool) {
		gate := "[auto]"
		if tool.Approval == ApprovalRequired {
			gate = "[approval required]"
		}
		fmt.Fprintf(&b, "- %s(%s): Promise<%s> %s — %s\n",
			path, schemaType(tool.Args), schemaType(tool.Returns), gate, tool.Description)
	})
	return b.String()
}

// RenderDeclarations produces a type-signature block for optional static
// checking of candidate code:
//
//	declare const tools: {
//	  github: {
//	    issues: {
//	      close: (input: {number: number}) => Promise<{closed: boolean}>;
//	    };
//	  };
//	};
func RenderDeclarations(t *Tree) string {
	var b strings.Builder
	b.WriteString("declare const tools: {\n")
	renderDecls(&b, t, 1)
	b.WriteString("};\n")
	return b.String()
}

func renderDecls(b *strings.Builder, t *Tree, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, k := range t.keys {
		switch n := t.nodes[k].(type) {
		case *Tool:
			fmt.Fprintf(b, "%s%s: (input: %s) => Promise<%s>;\n",
				indent, k, schemaType(n.Args), schemaType(n.Returns))
		case *Tree:
			fmt.Fprintf(b, "%s%s: {\n", indent, k)
			renderDecls(b, n, depth+1)
			fmt.Fprintf(b, "%s};\n", indent)
		}
	}
}

// schemaType renders a JSON Schema as a compact TypeScript-ish type string.
// Anything it cannot interpret renders as "unknown".
func schemaType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown"
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return "unknown"
	}
	return typeOf(schema, 0)
}

// maxSchemaDepth stops runaway rendering of self-referential schemas.
const maxSchemaDepth = 6

func typeOf(schema map[string]any, depth int) string {
	if depth > maxSchemaDepth {
		return "unknown"
	}
	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		parts := make([]string, 0, len(enum))
		for _, v := range enum {
			if s, ok := v.(string); ok {
				parts = append(parts, fmt.Sprintf("%q", s))
			} else {
				parts = append(parts, fmt.Sprintf("%v", v))
			}
		}
		return strings.Join(parts, " | ")
	}
	switch typ, _ := schema["type"].(string); typ {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "null":
		return "null"
	case "array":
		if items, ok := schema["items"].(map[string]any); ok {
			return typeOf(items, depth+1) + "[]"
		}
		return "unknown[]"
	case "object":
		props, ok := schema["properties"].(map[string]any)
		if !ok || len(props) == 0 {
			return "object"
		}
		required := map[string]bool{}
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		// properties is an unordered map; sort for determinism.
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			opt := "?"
			if required[name] {
				opt = ""
			}
			sub := "unknown"
			if m, ok := props[name].(map[string]any); ok {
				sub = typeOf(m, depth+1)
			}
			parts = append(parts, name+opt+": "+sub)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "unknown"
	}
}
