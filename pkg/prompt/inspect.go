package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"codeloop/pkg/schema"
	"codeloop/pkg/snapshot"
)

// maxInspectItems bounds how many array items Inspect prints.
const maxInspectItems = 50

// Inspect renders a value for the model, headed by "// label: type" when label is set.
// It returns "" for nil and for values that cannot be encoded; callers fall back to JSON.
func Inspect(value any, label string) string {
	if value == nil {
		return ""
	}

	var body, typ string
	switch v := value.(type) {
	case error:
		body, typ = "Error: "+v.Error(), "Error"
	case string:
		body, typ = v, "string"
	case fmt.Stringer:
		body, typ = v.String(), "string"
	default:
		normalized, err := schema.Normalize(value)
		if err != nil {
			return ""
		}
		typ = snapshot.TypeOf(normalized)
		body = inspectJSON(normalized)
	}

	if label == "" {
		return body
	}
	return "// " + label + ": " + typ + "\n" + body
}

func inspectJSON(v any) string {
	items, ok := v.([]any)
	if !ok || len(items) <= maxInspectItems {
		return indentJSON(v)
	}

	data, err := json.MarshalIndent(items[:maxInspectItems], "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	text := strings.TrimSuffix(string(data), "]")
	return fmt.Sprintf("%s  // ... and %d more items\n]", text, len(items)-maxInspectItems)
}
