// Package snapshot defines the state captured when generated code is suspended at an
// asynchronous tool call, and the outcome used to resume it.
//
// Capturing a live sandbox and resuming it is not implemented; the types here are what the
// prompt renderers consume.
package snapshot

import (
	"encoding/json"
	"sort"

	"codeloop/pkg/signals"
)

// MaxVariableSize is the largest JSON encoding restored in full. Larger values keep only a preview.
const MaxVariableSize = 4096

// previewSize bounds Variable.Preview.
const previewSize = 512

// Variable is one binding visible at the suspension point.
type Variable struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Value     any    `json:"value,omitempty"`
	Preview   string `json:"preview,omitempty"`
	Truncated bool   `json:"truncated"`
}

// Snapshot is the ordered variable bindings, the code executed up to the suspension and
// the tool call that suspended it.
type Snapshot struct {
	Variables []Variable        `json:"variables"`
	Stack     string            `json:"stack"`
	ToolCall  *signals.ToolCall `json:"tool_call,omitempty"`
}

// Result is how a suspended tool call settled.
type Result struct {
	Snapshot *Snapshot
	// Description explains the settled call to the model, e.g. "fetchOrders resolved".
	Description string
	// Value is the resolved output or the rejection error.
	Value any
}

// NewVariable captures value, replacing it by a preview when its encoding exceeds MaxVariableSize.
func NewVariable(name string, value any) Variable {
	v := Variable{Name: name, Type: TypeOf(value)}
	data, err := json.Marshal(value)
	if err != nil || len(data) > MaxVariableSize {
		v.Truncated = true
		v.Preview = preview(data)
		return v
	}
	v.Value = value
	return v
}

// FromInterrupt builds a Snapshot for sig with variables sorted by name.
func FromInterrupt(sig *signals.InterruptSignal, variables map[string]any) *Snapshot {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Snapshot{Stack: sig.TruncatedCode, ToolCall: sig.ToolCall}
	for _, name := range names {
		s.Variables = append(s.Variables, NewVariable(name, variables[name]))
	}
	return s
}

// TypeOf returns a TypeScript type name for a JSON-shaped value.
func TypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return "number"
	case []any:
		return "any[]"
	case map[string]any:
		return "Record<string, any>"
	default:
		return "any"
	}
}

func preview(data []byte) string {
	r := []rune(string(data))
	if len(r) > previewSize {
		return string(r[:previewSize]) + "..."
	}
	return string(r)
}
