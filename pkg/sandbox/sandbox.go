// Package sandbox runs one generated JavaScript snippet against a Scope.
//
// The snippet is the body of a strict-mode async function executed by an embedded goja
// runtime. Objects are sealed, tools are read-only functions and asynchronous tools run on
// their own goroutines; their results are delivered back on the runtime goroutine.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"codeloop/pkg/logx"
	"codeloop/pkg/signals"
	"codeloop/pkg/trace"
)

// DefaultMaxConcurrentTools bounds concurrently running asynchronous tool calls.
const DefaultMaxConcurrentTools = 8

const programName = "snippet.js"

// ErrNeverSettled is reported when the snippet awaits something that can no longer settle.
var ErrNeverSettled = errors.New("the code is waiting on a promise that will never settle")

// OutcomeKind tags an Outcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeOK OutcomeKind = iota
	OutcomeThink
	OutcomeInterrupt
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeThink:
		return "think"
	case OutcomeInterrupt:
		return "interrupt"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one run. Exactly the fields for Kind are set.
//
//nolint:govet // fieldalignment: grouped by kind
type Outcome struct {
	Kind OutcomeKind

	// OK
	ReturnValue any

	// Think, Interrupt
	Think     *signals.ThinkSignal
	Interrupt *signals.InterruptSignal

	// Failure: *signals.InvalidCodeError, *signals.CodeExecutionError or a context error.
	Err error

	LinesExecuted int
	// Variables holds the final values of the carried variables.
	Variables map[string]any
}

type options struct {
	maxConcurrent int
	logger        *logx.Logger
}

// Option configures Run.
type Option func(*options)

// WithMaxConcurrentTools bounds concurrently running asynchronous tool calls.
func WithMaxConcurrentTools(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logx.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Run executes code with scope as its only bindings. Console output is pushed to log as
// log traces. Cancelling ctx interrupts the runtime and yields a Failure carrying the
// context error.
func Run(ctx context.Context, scope *Scope, code string, log *trace.Log, opts ...Option) Outcome {
	o := options{maxConcurrent: DefaultMaxConcurrentTools, logger: logx.NewLogger("sandbox")}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = trace.NewLog()
	}

	if err := scope.Validate(); err != nil {
		return Outcome{Kind: OutcomeFailure, Err: &signals.CodeExecutionError{Message: err.Error(), Code: code}}
	}

	declared, err := declaredNames(code)
	if err != nil {
		return Outcome{Kind: OutcomeFailure, Err: &signals.InvalidCodeError{Message: err.Error(), Code: code}}
	}
	program, err := goja.Compile(programName, wrap(code, declared), false)
	if err != nil {
		return Outcome{Kind: OutcomeFailure, Err: &signals.InvalidCodeError{Message: err.Error(), Code: code}}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := newRunner(runCtx, code, log, o)
	r.declared = declared
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer stop()

	if err := r.bind(scope); err != nil {
		return Outcome{Kind: OutcomeFailure, Err: &signals.CodeExecutionError{Message: err.Error(), Code: code}}
	}

	logx.Debug(ctx, "sandbox", "running %d lines with %d bindings", countLines(code), scope.Len())
	out := r.run(ctx, program)
	if !stop() {
		<-interrupted
	}
	out.Variables = r.variables(scope)
	return out
}

// wrap turns code into an async function taking the declaration reader callback. Everything
// the wrapper adds sits on line 1 so reported positions match the snippet.
func wrap(code string, declared []string) string {
	var b strings.Builder
	b.WriteString(`(async function (` + readerParam + `) { "use strict"; `)
	if len(declared) > 0 {
		b.WriteString(readerParam + `((` + readerParam + `) => { switch (` + readerParam + `) { `)
		for _, name := range declared {
			b.WriteString(`case "` + name + `": return ` + name + `; `)
		}
		b.WriteString(`} }); `)
	}
	b.WriteString(code)
	b.WriteString("\n})")
	return b.String()
}

func countLines(code string) int {
	n := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func (r *runner) run(ctx context.Context, program *goja.Program) Outcome {
	fn, err := r.vm.RunProgram(program)
	if err != nil {
		return r.finish(ctx, nil, err)
	}
	snippet, ok := goja.AssertFunction(fn)
	if !ok {
		return r.finish(ctx, nil, errors.New("snippet did not compile to a function"))
	}
	result, err := snippet(goja.Undefined(), r.vm.ToValue(r.setReader))
	if err != nil {
		return r.finish(ctx, nil, err)
	}

	promise, ok := result.Export().(*goja.Promise)
	if !ok {
		return r.finish(ctx, result, nil)
	}

	for promise.State() == goja.PromiseStatePending {
		if r.pending == 0 {
			return r.finish(ctx, nil, ErrNeverSettled)
		}
		select {
		case <-ctx.Done():
			return r.finish(ctx, nil, ctx.Err())
		case c := <-r.completions:
			r.pending--
			if err := r.settle(c); err != nil {
				return r.finish(ctx, nil, err)
			}
		}
	}

	if promise.State() == goja.PromiseStateRejected {
		return r.finish(ctx, nil, &rejection{value: promise.Result()})
	}
	return r.finish(ctx, promise.Result(), nil)
}

// rejection carries the value an async snippet was rejected with.
type rejection struct {
	value goja.Value
}

func (e *rejection) Error() string { return e.value.String() }

// finish classifies the end of a run. Cancellation wins, then signals raised by tools,
// then whatever the code itself did.
func (r *runner) finish(ctx context.Context, value goja.Value, err error) Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = ctxErr
		}
		return Outcome{Kind: OutcomeFailure, Err: cause}
	}

	if r.signal != nil {
		if think, ok := signals.AsThink(r.signal); ok {
			return Outcome{Kind: OutcomeThink, Think: think, LinesExecuted: countLines(r.code)}
		}
		if intr, ok := signals.AsInterrupt(r.signal); ok {
			return Outcome{Kind: OutcomeInterrupt, Interrupt: intr, LinesExecuted: countLines(intr.TruncatedCode)}
		}
	}

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return Outcome{Kind: OutcomeFailure, Err: context.Canceled}
		}
		return Outcome{Kind: OutcomeFailure, Err: r.executionError(err)}
	}

	var ret any
	if value != nil && !goja.IsUndefined(value) {
		ret = value.Export()
	}
	return Outcome{Kind: OutcomeOK, ReturnValue: ret, LinesExecuted: countLines(r.code)}
}

func (r *runner) executionError(err error) *signals.CodeExecutionError {
	var (
		rej *rejection
		ex  *goja.Exception
	)
	switch {
	case errors.As(err, &rej):
		msg, stack := describe(rej.value)
		return &signals.CodeExecutionError{Message: msg, Stack: stack, Code: r.code}
	case errors.As(err, &ex):
		msg, stack := describe(ex.Value())
		if stack == "" {
			stack = ex.String()
		}
		return &signals.CodeExecutionError{Message: msg, Stack: stack, Code: r.code}
	default:
		return &signals.CodeExecutionError{Message: err.Error(), Code: r.code}
	}
}

// describe extracts message and stack from a thrown value.
func describe(v goja.Value) (message, stack string) {
	if v == nil {
		return "unknown error", ""
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			message = m.String()
		}
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
	}
	if message == "" {
		message = v.String()
	}
	return message, stack
}
