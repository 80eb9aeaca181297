// Package tool describes callable capabilities exposed to generated code and wraps them
// with tracing and signal handling.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"codeloop/pkg/schema"
	"codeloop/pkg/utils"
)

// ErrInvalidTool is returned by Validate for a malformed tool definition.
var ErrInvalidTool = errors.New("invalid tool")

// Executor is the behavior of a tool. It may return or raise a signal.
type Executor func(ctx context.Context, input any) (any, error)

// Tool is a named capability callable from generated code.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Tool struct {
	Name        string
	Aliases     []string
	Description string
	Input       *schema.Schema
	Output      *schema.Schema
	Execute     Executor

	// Async tools return a promise in the sandbox and run on their own goroutine.
	Async bool
}

// Names returns the tool name followed by its aliases.
func (t *Tool) Names() []string {
	return append([]string{t.Name}, t.Aliases...)
}

// Validate checks the name, aliases and executor.
func (t *Tool) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	if t.Execute == nil {
		return fmt.Errorf("%w: tool %q has no executor", ErrInvalidTool, t.Name)
	}
	seen := make(map[string]bool)
	for _, name := range t.Names() {
		if !utils.IsValidIdentifier(name) {
			return fmt.Errorf("%w: %q is not a valid identifier", ErrInvalidTool, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: tool %q declares %q twice", ErrInvalidTool, t.Name, name)
		}
		seen[name] = true
	}
	return nil
}

// Typings renders the tool as a TypeScript function declaration.
func (t *Tool) Typings() string {
	var b strings.Builder
	writeDoc(&b, "", t.Description)
	fmt.Fprintf(&b, "declare function %s;", t.signature(t.Name))
	for _, alias := range t.Aliases {
		fmt.Fprintf(&b, "\n/** Alias of %s */\ndeclare function %s;", t.Name, t.signature(alias))
	}
	return b.String()
}

// MemberTypings renders the tool as a method inside an object declaration.
func (t *Tool) MemberTypings(indent string) string {
	var b strings.Builder
	writeDoc(&b, indent, t.Description)
	b.WriteString(indent + t.signature(t.Name) + ";")
	return b.String()
}

func (t *Tool) signature(name string) string {
	params := ""
	if t.Input != nil {
		params = "input: " + t.Input.Typings()
	}
	out := "void"
	if t.Output != nil {
		out = t.Output.Typings()
	}
	if t.Async {
		out = "Promise<" + out + ">"
	}
	return fmt.Sprintf("%s(%s): %s", name, params, out)
}

func writeDoc(b *strings.Builder, indent, desc string) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return
	}
	b.WriteString(indent + "/**\n")
	for _, line := range strings.Split(desc, "\n") {
		b.WriteString(indent + " * " + line + "\n")
	}
	b.WriteString(indent + " */\n")
}

// NewTyped builds a tool from a typed function. Input and output schemas are reflected
// from I and O, and the raw input is decoded into I with mapstructure using json tags.
func NewTyped[I, O any](name, description string, fn func(ctx context.Context, input I) (O, error)) (*Tool, error) {
	in, err := schema.For[I]()
	if err != nil {
		return nil, fmt.Errorf("failed to reflect input schema for %s: %w", name, err)
	}
	out, err := schema.For[O]()
	if err != nil {
		return nil, fmt.Errorf("failed to reflect output schema for %s: %w", name, err)
	}

	return &Tool{
		Name:        name,
		Description: description,
		Input:       in,
		Output:      out,
		Execute: func(ctx context.Context, raw any) (any, error) {
			var input I
			if err := Decode(raw, &input); err != nil {
				return nil, fmt.Errorf("invalid input for %s: %w", name, err)
			}
			return fn(ctx, input)
		},
	}, nil
}

// Decode converts a JSON-shaped value into dst, matching fields by json tag.
func Decode(raw, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}
