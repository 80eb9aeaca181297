package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Typings renders the schema as a TypeScript-like type expression.
// A nil schema renders as "any".
func (s *Schema) Typings() string {
	if s == nil {
		return "any"
	}
	return renderType(s.doc, 0)
}

// Description returns the top-level description, if any.
func (s *Schema) Description() string {
	if s == nil {
		return ""
	}
	d, _ := s.doc["description"].(string)
	return d
}

// IsObject reports whether the schema describes an object.
func (s *Schema) IsObject() bool {
	return s != nil && typeNames(s.doc)[0] == "object"
}

func renderType(doc map[string]any, depth int) string {
	if doc == nil {
		return "any"
	}

	if c, ok := doc["const"]; ok {
		return literal(c)
	}
	if enum, ok := doc["enum"].([]any); ok && len(enum) > 0 {
		parts := make([]string, len(enum))
		for i, v := range enum {
			parts[i] = literal(v)
		}
		return strings.Join(parts, " | ")
	}
	for _, key := range []string{"anyOf", "oneOf"} {
		if alts, ok := doc[key].([]any); ok && len(alts) > 0 {
			parts := make([]string, 0, len(alts))
			for _, alt := range alts {
				m, _ := alt.(map[string]any)
				parts = append(parts, renderType(m, depth))
			}
			return strings.Join(parts, " | ")
		}
	}

	names := typeNames(doc)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, renderNamed(name, doc, depth))
	}
	return strings.Join(parts, " | ")
}

func renderNamed(name string, doc map[string]any, depth int) string {
	switch name {
	case "string", "boolean", "null":
		return name
	case "number", "integer":
		return "number"
	case "array":
		items, _ := doc["items"].(map[string]any)
		inner := renderType(items, depth)
		if strings.Contains(inner, " | ") {
			inner = "(" + inner + ")"
		}
		return inner + "[]"
	case "object":
		return renderObject(doc, depth)
	default:
		return "any"
	}
}

func renderObject(doc map[string]any, depth int) string {
	props, _ := doc["properties"].(map[string]any)
	if len(props) == 0 {
		return "Record<string, any>"
	}

	required := make(map[string]bool)
	if req, ok := doc["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	indent := strings.Repeat("  ", depth+1)
	var b strings.Builder
	b.WriteString("{\n")
	for _, k := range keys {
		prop, _ := props[k].(map[string]any)
		if desc, ok := prop["description"].(string); ok && desc != "" {
			fmt.Fprintf(&b, "%s/** %s */\n", indent, desc)
		}
		opt := "?"
		if required[k] {
			opt = ""
		}
		fmt.Fprintf(&b, "%s%s%s: %s;\n", indent, k, opt, renderType(prop, depth+1))
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("}")
	return b.String()
}

// typeNames returns the declared type names, or "any" when none is declared.
func typeNames(doc map[string]any) []string {
	switch t := doc["type"].(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if _, ok := doc["properties"]; ok {
		return []string{"object"}
	}
	return []string{"any"}
}

func literal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "any"
	}
	return string(data)
}
