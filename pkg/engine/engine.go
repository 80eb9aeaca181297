// Package engine runs the code-execution loop.
//
// Each iteration asks the model for a JavaScript snippet, runs it in the sandbox and turns
// the outcome into a Status. Retryable statuses feed a follow-up message into the next
// iteration; exit_success ends the run; everything else fails it. The number of iterations
// never exceeds Options.Loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"codeloop/pkg/logx"
	"codeloop/pkg/signals"
	"codeloop/pkg/trace"
)

// TracerName is the OpenTelemetry instrumentation name of the engine.
const TracerName = "codeloop/engine"

const noStack = "No stack trace available"

type executor struct {
	opts   *Options
	c      *Context
	log    *logx.Logger
	tracer oteltrace.Tracer
}

// Execute runs the loop until an exit succeeds, a terminal status is reached or the loop
// limit is exceeded. It never panics and always returns a Result.
func Execute(ctx context.Context, opts Options) *Result {
	o, err := opts.withDefaults()
	if err != nil {
		return failed(nil, err)
	}

	e := &executor{
		opts:   o,
		c:      newContext(o),
		log:    o.Logger,
		tracer: otel.Tracer(TracerName),
	}

	ctx = logx.WithRunID(ctx, e.c.ID)
	ctx, span := e.tracer.Start(ctx, "engine.execute", oteltrace.WithAttributes(
		attribute.String("run.id", e.c.ID),
		attribute.String("llm.model", e.c.Model),
		attribute.Int("run.loop", e.c.Loop),
	))
	defer span.End()

	start := time.Now()
	res := e.loop(ctx)

	span.SetAttributes(
		attribute.String("run.status", string(res.Status)),
		attribute.Int("run.iterations", len(res.Iterations)),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Error)
	}
	o.Metrics.ObserveRun(string(res.Status), len(res.Iterations), time.Since(start))
	e.log.Info("🏁 Run %s finished: status=%s iterations=%d", e.c.ID, res.Status, len(res.Iterations))
	return res
}

func (e *executor) loop(ctx context.Context) *Result {
	for {
		if len(e.c.Iterations()) >= e.c.Loop {
			return failed(e.c, fmt.Errorf("%w. maximum allowed loops: %d", ErrLoopLimit, e.c.Loop))
		}

		it, err := e.c.nextIteration()
		e.runIteration(ctx, it, err)
		e.iterationEnded(ctx, it)

		status := it.Status()
		t, known := statusTransitions[status]
		switch {
		case !known:
			return failed(e.c, terminalError(it))
		case t == transitionSucceed:
			return succeeded(e.c)
		case t == transitionFail:
			return failed(e.c, terminalError(it))
		}
		logx.Debug(ctx, "engine", "iteration %d ended %s, retrying", it.Number, status)
	}
}

// runIteration executes one pass. Panics and unexpected errors end the iteration with
// execution_error so they consume loop budget instead of crashing the run.
func (e *executor) runIteration(ctx context.Context, it *Iteration, resolveErr error) {
	ctx, span := e.tracer.Start(ctx, "engine.iteration", oteltrace.WithAttributes(
		attribute.String("iteration.id", it.ID),
		attribute.Int("iteration.number", it.Number),
	))
	defer func() {
		span.SetAttributes(attribute.String("iteration.status", string(it.Status())))
		span.End()
	}()

	defer e.subscribe(it)()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("💥 Iteration %d panicked: %v\n%s", it.Number, r, debug.Stack())
			e.unexpected(it, fmt.Errorf("%v", r))
		}
	}()

	err := resolveErr
	if err == nil {
		err = e.executeIteration(ctx, it)
	}
	if err != nil {
		span.RecordError(err)
		e.unexpected(it, err)
	}
	if !it.Ended() {
		e.unexpected(it, errors.New("iteration finished without a status"))
	}
}

func (e *executor) unexpected(it *Iteration, err error) {
	msg := "an unexpected error occurred: " + err.Error()
	if endErr := it.End(StatusExecutionError, Detail{Err: &signals.CodeExecutionError{Message: msg, Stack: noStack, Code: it.Code}}); endErr == nil {
		e.log.Warn("⚠️  Iteration %d: %s", it.Number, msg)
	}
}

// subscribe forwards the iteration's traces to OnTrace and the metrics recorder. The
// returned func removes the subscription.
func (e *executor) subscribe(it *Iteration) func() {
	return it.Traces.Subscribe(func(t trace.Trace) {
		if t.Kind == trace.KindToolCall {
			e.opts.Metrics.ObserveToolCall(qualifiedTool(t), t.Success, t.Duration)
		}
		if e.opts.Hooks.OnTrace == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("OnTrace hook panicked: %v", r)
			}
		}()
		e.opts.Hooks.OnTrace(TraceEvent{Trace: t, Iteration: it.Number})
	})
}

func qualifiedTool(t trace.Trace) string {
	if t.Object == "" {
		return t.ToolName
	}
	return t.Object + "." + t.ToolName
}

func (e *executor) iterationEnded(ctx context.Context, it *Iteration) {
	e.opts.Metrics.ObserveIteration(string(it.Status()), it.Duration())
	logx.Debug(ctx, "engine", "iteration %d: status=%s traces=%d mutations=%d",
		it.Number, it.Status(), it.Traces.Len(), len(it.Mutations()))

	if e.opts.Hooks.OnIterationEnd == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("OnIterationEnd hook panicked: %v", r)
		}
	}()
	if err := e.opts.Hooks.OnIterationEnd(ctx, it); err != nil {
		e.log.Error("OnIterationEnd hook failed: %v", err)
	}
}
