package sandbox

import (
	"errors"
	"fmt"
	"sort"

	"codeloop/pkg/object"
	"codeloop/pkg/tool"
	"codeloop/pkg/utils"
)

// MaxScopeEntries bounds the number of identifiers bound into one run.
const MaxScopeEntries = 1024

// Scope errors.
var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrDuplicateName     = errors.New("name already bound")
	ErrScopeTooLarge     = errors.New("scope too large")
)

// builtinNames are globals the sandbox provides itself.
//
//nolint:gochecknoglobals // lookup table
var builtinNames = map[string]bool{
	"console": true, "globalThis": true, "Object": true, "Array": true, "Promise": true,
	"JSON": true, "Math": true, "Error": true, "String": true, "Number": true, "Boolean": true,
	"Date": true, "RegExp": true, "Map": true, "Set": true, "Symbol": true, "Reflect": true, "Proxy": true,
}

type boundTool struct {
	tool   *tool.Tool
	invoke tool.Invoker
}

// Scope is the complete set of bindings visible to one snippet. Objects and tools are
// bound read-only; variables are plain writable globals.
type Scope struct {
	objects   map[string]*object.Binding
	tools     map[string]boundTool
	variables map[string]any
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{
		objects:   make(map[string]*object.Binding),
		tools:     make(map[string]boundTool),
		variables: make(map[string]any),
	}
}

func (s *Scope) check(name string) error {
	if !utils.IsValidIdentifier(name) || builtinNames[name] {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	if _, ok := s.objects[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if _, ok := s.tools[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	return nil
}

// AddObject binds an object under its name. A variable with the same name is replaced.
func (s *Scope) AddObject(b *object.Binding) error {
	if err := s.check(b.Name); err != nil {
		return err
	}
	delete(s.variables, b.Name)
	s.objects[b.Name] = b
	return nil
}

// AddTool binds a global tool under name. A variable with the same name is replaced.
func (s *Scope) AddTool(name string, t *tool.Tool, invoke tool.Invoker) error {
	if err := s.check(name); err != nil {
		return err
	}
	delete(s.variables, name)
	s.tools[name] = boundTool{tool: t, invoke: invoke}
	return nil
}

// AddVariables binds carried variables. Names that are not legal identifiers, builtins or
// already bound to an object or tool are skipped and returned.
func (s *Scope) AddVariables(vars map[string]any) (skipped []string) {
	for name, v := range vars {
		if s.check(name) != nil {
			skipped = append(skipped, name)
			continue
		}
		s.variables[name] = v
	}
	sort.Strings(skipped)
	return skipped
}

// Len returns the number of bound identifiers.
func (s *Scope) Len() int {
	return len(s.objects) + len(s.tools) + len(s.variables)
}

// Names returns every bound identifier, sorted.
func (s *Scope) Names() []string {
	out := make([]string, 0, s.Len())
	for name := range s.objects {
		out = append(out, name)
	}
	for name := range s.tools {
		out = append(out, name)
	}
	for name := range s.variables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate re-checks every binding and the size bound.
func (s *Scope) Validate() error {
	if n := s.Len(); n > MaxScopeEntries {
		return fmt.Errorf("%w: %d entries, at most %d allowed", ErrScopeTooLarge, n, MaxScopeEntries)
	}
	for _, name := range s.Names() {
		if !utils.IsValidIdentifier(name) || builtinNames[name] {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	for name, b := range s.objects {
		if name != b.Name {
			return fmt.Errorf("%w: object %q bound as %q", ErrInvalidIdentifier, b.Name, name)
		}
		for _, bt := range b.Tools {
			if !utils.IsValidIdentifier(bt.Tool.Name) {
				return fmt.Errorf("%w: %s.%s", ErrInvalidIdentifier, name, bt.Tool.Name)
			}
		}
	}
	return nil
}
