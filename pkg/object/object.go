// Package object binds named bundles of typed properties and tools for generated code.
//
// An Instance is a definition. Bind produces a Binding that holds the live property values
// for one iteration; every write goes through Property.TrySet, which validates and records it.
package object

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"codeloop/pkg/schema"
	"codeloop/pkg/signals"
	"codeloop/pkg/tool"
	"codeloop/pkg/trace"
	"codeloop/pkg/utils"
)

// ErrInvalidObject is returned by Validate for a malformed definition.
var ErrInvalidObject = errors.New("invalid object")

// PropertyDef declares one property of an Instance.
//
//nolint:govet // fieldalignment: logical grouping preferred
type PropertyDef struct {
	Name        string
	Description string
	Value       any
	Writable    bool
	Schema      *schema.Schema
}

// Instance is a named bundle of properties and tools.
type Instance struct {
	Name        string
	Description string
	Properties  []*PropertyDef
	Tools       []*tool.Tool

	mu     sync.Mutex
	values map[string]any
}

// Validate checks identifiers and uniqueness of property and tool names.
func (i *Instance) Validate() error {
	if !utils.IsValidIdentifier(i.Name) {
		return fmt.Errorf("%w: %q is not a valid identifier", ErrInvalidObject, i.Name)
	}
	seen := make(map[string]bool)
	for _, p := range i.Properties {
		if !utils.IsValidIdentifier(p.Name) {
			return fmt.Errorf("%w: property %s.%s is not a valid identifier", ErrInvalidObject, i.Name, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s declares %q twice", ErrInvalidObject, i.Name, p.Name)
		}
		seen[p.Name] = true
	}
	for _, t := range i.Tools {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidObject, i.Name, err)
		}
		for _, name := range t.Names() {
			if seen[name] {
				return fmt.Errorf("%w: %s declares %q twice", ErrInvalidObject, i.Name, name)
			}
			seen[name] = true
		}
	}
	return nil
}

// Value returns the committed value of a property. Values committed through a Binding
// persist on the Instance across iterations.
func (i *Instance) Value(name string) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if v, ok := i.values[name]; ok {
		return v, true
	}
	for _, p := range i.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func (i *Instance) commit(name string, v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.values == nil {
		i.values = make(map[string]any)
	}
	i.values[name] = v
}

// Typings renders the instance as a TypeScript namespace declaration.
func (i *Instance) Typings() string {
	var b strings.Builder
	if d := strings.TrimSpace(i.Description); d != "" {
		fmt.Fprintf(&b, "/** %s */\n", strings.ReplaceAll(d, "\n", " "))
	}
	fmt.Fprintf(&b, "declare namespace %s {\n", i.Name)
	for _, p := range i.Properties {
		if d := strings.TrimSpace(p.Description); d != "" {
			fmt.Fprintf(&b, "  /** %s */\n", strings.ReplaceAll(d, "\n", " "))
		}
		kw := "const"
		if p.Writable {
			kw = "let"
		}
		typ := p.Schema.Typings()
		if !p.Writable {
			typ = "Readonly<" + typ + ">"
		}
		fmt.Fprintf(&b, "  %s %s: %s;\n", kw, p.Name, typ)
	}
	for _, t := range i.Tools {
		b.WriteString(t.MemberTypings("  ") + "\n")
	}
	b.WriteString("}")
	return b.String()
}

// Mutation records one committed property write.
type Mutation struct {
	Object   string `json:"object"`
	Property string `json:"property"`
	Before   any    `json:"before"`
	After    any    `json:"after"`
}

// Recorder receives committed mutations.
type Recorder interface {
	RecordMutation(m Mutation)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Mutation)

// RecordMutation implements Recorder.
func (f RecorderFunc) RecordMutation(m Mutation) { f(m) }

// Property is the access-controlled capability for one property inside a Binding.
type Property struct {
	inst     *Instance
	def      *PropertyDef
	traces   *trace.Log
	recorder Recorder
}

// Name returns the property name.
func (p *Property) Name() string { return p.def.Name }

// Writable reports whether writes may succeed.
func (p *Property) Writable() bool { return p.def.Writable }

// Get returns the current value.
func (p *Property) Get() any {
	v, _ := p.inst.Value(p.def.Name)
	return v
}

// TrySet validates and commits v. A value equal to the current one is a no-op.
// Rejected writes return a *signals.AssignmentError and leave the value unchanged.
func (p *Property) TrySet(v any) error {
	before := p.Get()
	if schema.Equal(before, v) {
		return nil
	}
	if !p.def.Writable {
		return signals.NewAssignmentError("Property %s.%s is read-only and cannot be modified", p.inst.Name, p.def.Name)
	}

	parsed, err := p.def.Schema.Parse(v)
	if err != nil {
		return signals.NewAssignmentError("Invalid value for Object property %s.%s: %s", p.inst.Name, p.def.Name, err.Error())
	}

	p.inst.commit(p.def.Name, parsed)
	if p.traces != nil {
		p.traces.Push(trace.Trace{
			Kind:      trace.KindProperty,
			StartedAt: time.Now(),
			Object:    p.inst.Name,
			Property:  p.def.Name,
			Value:     parsed,
		})
	}
	if p.recorder != nil {
		p.recorder.RecordMutation(Mutation{Object: p.inst.Name, Property: p.def.Name, Before: before, After: parsed})
	}
	return nil
}

// BoundTool is a tool wrapped for one iteration.
type BoundTool struct {
	Tool   *tool.Tool
	Invoke tool.Invoker
}

// Binding is the per-iteration view of an Instance.
type Binding struct {
	Name       string
	Properties []*Property
	Tools      []BoundTool
}

// Bind creates the binding of inst for one iteration. Property writes push traces to log
// and mutations to rec; tool calls are wrapped with tool.Wrap.
func Bind(inst *Instance, log *trace.Log, rec Recorder, opts ...tool.WrapOption) *Binding {
	b := &Binding{Name: inst.Name}
	for _, def := range inst.Properties {
		b.Properties = append(b.Properties, &Property{inst: inst, def: def, traces: log, recorder: rec})
	}
	for _, t := range inst.Tools {
		b.Tools = append(b.Tools, BoundTool{Tool: t, Invoke: tool.Wrap(t, log, inst.Name, opts...)})
	}
	return b
}

// Property returns the bound property called name.
func (b *Binding) Property(name string) (*Property, bool) {
	for _, p := range b.Properties {
		if p.def.Name == name {
			return p, true
		}
	}
	return nil, false
}
