// Package exit declares the terminal actions generated code may return.
package exit

import (
	"errors"
	"fmt"
	"strings"

	"codeloop/pkg/schema"
)

// ThinkAction is the reserved action that asks for another iteration.
const ThinkAction = "think"

// ErrInvalidExit is returned by Validate.
var ErrInvalidExit = errors.New("invalid exit")

// Exit is one legitimate way for a run to end.
type Exit struct {
	Name        string
	Aliases     []string
	Description string
	Schema      *schema.Schema
}

// Validate rejects empty or reserved names.
func (e *Exit) Validate() error {
	for _, name := range append([]string{e.Name}, e.Aliases...) {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidExit)
		}
		if strings.EqualFold(name, ThinkAction) {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidExit, ThinkAction)
		}
	}
	return nil
}

// Typings renders the value type of the exit, or "" when it has no schema.
func (e *Exit) Typings() string {
	if e.Schema == nil {
		return ""
	}
	return e.Schema.Typings()
}

// Match resolves action against exit names first and aliases second, ignoring case.
func Match(exits []*Exit, action string) (*Exit, bool) {
	want := strings.ToLower(action)
	for _, e := range exits {
		if strings.ToLower(e.Name) == want {
			return e, true
		}
	}
	for _, e := range exits {
		for _, alias := range e.Aliases {
			if strings.ToLower(alias) == want {
				return e, true
			}
		}
	}
	return nil, false
}

// ValidActions lists the lowercase exit names and aliases followed by "think".
func ValidActions(exits []*Exit) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(exits)+1)
	add := func(name string) {
		name = strings.ToLower(name)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, e := range exits {
		add(e.Name)
		for _, alias := range e.Aliases {
			add(alias)
		}
	}
	add(ThinkAction)
	return out
}
