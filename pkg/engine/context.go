package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"codeloop/pkg/exit"
	"codeloop/pkg/object"
	"codeloop/pkg/tool"
	"codeloop/pkg/transcript"
)

// Context is the configuration and history of one run.
//
//nolint:govet // fieldalignment: configuration first
type Context struct {
	ID          string
	Loop        int
	Temperature float32
	Model       string

	Instructions Source[string]
	Objects      Source[[]*object.Instance]
	Tools        Source[[]*tool.Tool]
	Exits        Source[[]*exit.Exit]
	Transcript   Source[transcript.Transcript]

	mu         sync.RWMutex
	iterations []*Iteration
}

func newContext(opts *Options) *Context {
	return &Context{
		ID:           uuid.NewString(),
		Loop:         opts.Loop,
		Temperature:  opts.Temperature,
		Model:        opts.Model,
		Instructions: opts.Instructions,
		Objects:      opts.Objects,
		Tools:        opts.Tools,
		Exits:        opts.Exits,
		Transcript:   opts.Transcript,
	}
}

// Iterations returns the iterations so far, oldest first.
func (c *Context) Iterations() []*Iteration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Iteration, len(c.iterations))
	copy(out, c.iterations)
	return out
}

// LastIteration returns the most recent iteration, or nil.
func (c *Context) LastIteration() *Iteration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.iterations) == 0 {
		return nil
	}
	return c.iterations[len(c.iterations)-1]
}

// nextIteration appends a new iteration carrying the variables of the previous one and
// resolves the sources for it. The iteration is appended even when resolving fails.
func (c *Context) nextIteration() (*Iteration, error) {
	var vars map[string]any
	prev := c.LastIteration()
	if prev != nil {
		vars = prev.nextVariables()
	}

	c.mu.Lock()
	it := newIteration(len(c.iterations)+1, vars)
	c.iterations = append(c.iterations, it)
	c.mu.Unlock()

	return it, c.resolve(it)
}

func (c *Context) resolve(it *Iteration) error {
	var err error
	if it.Instructions, err = c.Instructions.Resolve(c); err != nil {
		return fmt.Errorf("failed to resolve instructions: %w", err)
	}
	if it.Objects, err = c.Objects.Resolve(c); err != nil {
		return fmt.Errorf("failed to resolve objects: %w", err)
	}
	if it.Tools, err = c.Tools.Resolve(c); err != nil {
		return fmt.Errorf("failed to resolve tools: %w", err)
	}
	if it.Exits, err = c.Exits.Resolve(c); err != nil {
		return fmt.Errorf("failed to resolve exits: %w", err)
	}
	if it.Transcript, err = c.Transcript.Resolve(c); err != nil {
		return fmt.Errorf("failed to resolve transcript: %w", err)
	}

	for _, inst := range it.Objects {
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("object %q: %w", inst.Name, err)
		}
	}
	for _, t := range it.Tools {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tool %q: %w", t.Name, err)
		}
	}
	for _, e := range it.Exits {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("exit %q: %w", e.Name, err)
		}
	}
	if err := it.Transcript.Validate(); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	return nil
}
