package tool

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"codeloop/pkg/logx"
	"codeloop/pkg/signals"
	"codeloop/pkg/trace"
)

// SlowToolWarning is how long a call may run before a tool_slow trace is pushed.
var SlowToolWarning = 15 * time.Second //nolint:gochecknoglobals // overridable default

// Invoker is a wrapped tool as seen by the sandbox.
type Invoker func(ctx context.Context, input any) (any, error)

type wrapOptions struct {
	slowAfter time.Duration
	logger    *logx.Logger
}

// WrapOption configures Wrap.
type WrapOption func(*wrapOptions)

// WithSlowWarning overrides SlowToolWarning for one wrapped tool.
func WithSlowWarning(d time.Duration) WrapOption {
	return func(o *wrapOptions) {
		if d > 0 {
			o.slowAfter = d
		}
	}
}

// WithLogger sets the logger used for slow-call warnings.
func WithLogger(l *logx.Logger) WrapOption {
	return func(o *wrapOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Wrap adapts t for the sandbox. Every call pushes exactly one tool_call trace to log.
// Think and interrupt signals count as successful calls: they get their own trace and are
// returned as the error so the sandbox can act on them. object is the owning object
// name, or empty for global tools.
func Wrap(t *Tool, log *trace.Log, object string, opts ...WrapOption) Invoker {
	o := wrapOptions{slowAfter: SlowToolWarning, logger: logx.NewLogger("tool")}
	for _, opt := range opts {
		opt(&o)
	}
	tracer := otel.Tracer("codeloop/tool")

	return func(ctx context.Context, input any) (output any, err error) {
		start := time.Now()

		if t.Input != nil {
			if parsed, perr := t.Input.Parse(input); perr == nil {
				input = parsed
			}
		}

		ctx, span := tracer.Start(ctx, "tool.call")
		span.SetAttributes(
			attribute.String("tool.name", t.Name),
			attribute.String("tool.object", object),
		)
		defer span.End()

		timer := time.AfterFunc(o.slowAfter, func() {
			elapsed := time.Since(start)
			o.logger.Warn("⏳ Tool %s is still running after %s", qualified(object, t.Name), elapsed.Round(time.Millisecond))
			log.Push(trace.Trace{
				Kind:     trace.KindToolSlow,
				ToolName: t.Name,
				Object:   object,
				Input:    input,
				Duration: elapsed,
			})
		})

		output, err = execute(ctx, t, input)
		timer.Stop()
		if err == nil {
			err = signals.FromValue(output)
		}

		success := err == nil
		errMsg := ""
		if think, ok := signals.AsThink(err); ok {
			success = true
			output = think
			log.Push(trace.Trace{Kind: trace.KindThinkSignal, ToolName: t.Name, Object: object, Reason: think.Reason})
		} else if intr, ok := signals.AsInterrupt(err); ok {
			success = true
			if intr.ToolCall == nil {
				intr.ToolCall = &signals.ToolCall{
					Name:         qualified(object, t.Name),
					Input:        input,
					InputSchema:  t.Input,
					OutputSchema: t.Output,
				}
			}
			output = intr
			log.Push(trace.Trace{Kind: trace.KindExecuteSignal, ToolName: t.Name, Object: object, Reason: intr.Message})
		} else if err != nil {
			errMsg = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, errMsg)
		}

		log.Push(trace.Trace{
			Kind:      trace.KindToolCall,
			StartedAt: start,
			EndedAt:   time.Now(),
			ToolName:  t.Name,
			Object:    object,
			Input:     input,
			Output:    output,
			Error:     errMsg,
			Success:   success,
			Duration:  time.Since(start),
		})
		return output, err
	}
}

func execute(ctx context.Context, t *Tool, input any) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.Execute(ctx, input)
}

func qualified(object, name string) string {
	if object == "" {
		return name
	}
	return object + "." + name
}
