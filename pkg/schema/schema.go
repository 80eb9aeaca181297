// Package schema validates values against JSON Schema documents and renders them as
// TypeScript-like type declarations for prompts.
//
// A nil *Schema accepts any value unchanged.
package schema

import (
	"encoding/json"
	"fmt"

	gjs "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"
)

// Schema is a resolved JSON Schema together with its document form.
type Schema struct {
	doc      map[string]any
	resolved *gjs.Resolved
}

// FromMap builds a Schema from a decoded JSON Schema document.
func FromMap(doc map[string]any) (*Schema, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	return FromJSON(data)
}

// FromJSON builds a Schema from its JSON text.
func FromJSON(data []byte) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")

	clean, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	var s gjs.Schema
	if err := json.Unmarshal(clean, &s); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}
	return &Schema{doc: doc, resolved: resolved}, nil
}

// MustFromMap is FromMap for static schemas; it panics on error.
func MustFromMap(doc map[string]any) *Schema {
	s, err := FromMap(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// For reflects a Schema from the Go type T using json and jsonschema struct tags.
func For[T any]() (*Schema, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	data, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to encode reflected schema: %w", err)
	}
	return FromJSON(data)
}

// Doc returns a copy of the schema document.
func (s *Schema) Doc() map[string]any {
	if s == nil {
		return nil
	}
	return cloneMap(s.doc)
}

// MarshalJSON encodes the schema document.
func (s *Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.doc)
}

// Validate reports whether v conforms to the schema.
func (s *Schema) Validate(v any) error {
	_, err := s.Parse(v)
	return err
}

// Parse normalizes v into its JSON form, fills top-level property defaults and validates it.
// The returned value is what should be stored; v itself is never modified.
func (s *Schema) Parse(v any) (any, error) {
	if s == nil {
		return v, nil
	}

	normalized, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	normalized = s.applyDefaults(normalized)

	if err := s.resolved.Validate(normalized); err != nil {
		return nil, err //nolint:wrapcheck // validation message is surfaced verbatim
	}
	return normalized, nil
}

func (s *Schema) applyDefaults(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	props, _ := s.doc["properties"].(map[string]any)
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		def, has := prop["default"]
		if !has {
			continue
		}
		if _, present := obj[name]; !present {
			obj[name] = def
		}
	}
	return obj
}

// Normalize converts v to plain JSON values (map[string]any, []any, float64, string, bool, nil).
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	return out, nil
}

// Equal compares two values by their JSON form.
func Equal(a, b any) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	ja, _ := json.Marshal(na)
	jb, _ := json.Marshal(nb)
	return string(ja) == string(jb)
}

func cloneMap(m map[string]any) map[string]any {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}
