package engine

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"codeloop/pkg/exit"
)

// RunStatus is the outcome of a whole run.
type RunStatus string

// Run outcomes.
const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ErrNoExit is returned by Result.Decode for runs that did not succeed.
var ErrNoExit = errors.New("run did not exit successfully")

// Result is what Execute returns. Iterations is the full history, also on failure.
type Result struct {
	Status     RunStatus
	Error      string
	Err        error
	Iterations []*Iteration
	Context    *Context
}

func succeeded(c *Context) *Result {
	return &Result{Status: RunSuccess, Iterations: c.Iterations(), Context: c}
}

func failed(c *Context, err error) *Result {
	res := &Result{Status: RunError, Error: err.Error(), Err: err, Context: c}
	if c != nil {
		res.Iterations = c.Iterations()
	}
	return res
}

// Succeeded reports whether the run ended with an exit.
func (r *Result) Succeeded() bool {
	return r.Status == RunSuccess
}

func (r *Result) last() *Iteration {
	if len(r.Iterations) == 0 {
		return nil
	}
	return r.Iterations[len(r.Iterations)-1]
}

// Exit returns the exit taken by a successful run.
func (r *Result) Exit() (*exit.Exit, bool) {
	if !r.Succeeded() {
		return nil, false
	}
	it := r.last()
	if it == nil {
		return nil, false
	}
	e := it.Detail().Exit
	return e, e != nil
}

// Value returns the validated exit value of a successful run.
func (r *Result) Value() any {
	if !r.Succeeded() {
		return nil
	}
	if it := r.last(); it != nil {
		return it.Detail().ReturnValue
	}
	return nil
}

// Decode copies the exit value into dst, matching fields by their json tags.
func (r *Result) Decode(dst any) error {
	if !r.Succeeded() {
		return ErrNoExit
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(r.Value()); err != nil {
		return fmt.Errorf("failed to decode exit value: %w", err)
	}
	return nil
}
