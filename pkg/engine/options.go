package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeloop/pkg/exit"
	"codeloop/pkg/llm"
	"codeloop/pkg/logx"
	"codeloop/pkg/metrics"
	"codeloop/pkg/object"
	"codeloop/pkg/prompt"
	"codeloop/pkg/sandbox"
	"codeloop/pkg/tool"
	"codeloop/pkg/trace"
	"codeloop/pkg/transcript"
	"codeloop/pkg/truncator"
	"codeloop/pkg/utils"
)

// Defaults applied by Execute.
const (
	DefaultLoop          = 3
	DefaultContextWindow = 128_000
)

// TraceEvent is delivered to Hooks.OnTrace.
type TraceEvent struct {
	Trace     trace.Trace
	Iteration int
}

// Hooks are optional callbacks. OnIterationEnd and OnTrace failures are logged and
// ignored; an OnExit error turns a successful exit into exit_error.
type Hooks struct {
	OnIterationEnd func(ctx context.Context, it *Iteration) error
	OnTrace        func(ev TraceEvent)
	OnExit         func(ctx context.Context, e *exit.Exit, value any) error
}

// Options configure Execute. Client is required.
//
//nolint:govet // fieldalignment: grouped by concern
type Options struct {
	Loop        int
	Temperature float32
	Model       string

	Instructions Source[string]
	Objects      Source[[]*object.Instance]
	Tools        Source[[]*tool.Tool]
	Exits        Source[[]*exit.Exit]
	Transcript   Source[transcript.Transcript]

	Client llm.LLMClient
	Hooks  Hooks

	// Optional collaborators.
	Logger  *logx.Logger
	Tokens  truncator.Tokenizer
	Metrics metrics.Recorder
	Prompt  prompt.Prompt

	MaxConcurrentTools int
	SlowToolWarning    time.Duration
	// ContextWindow is the model's total token budget, output included.
	ContextWindow int
}

func (o *Options) withDefaults() (*Options, error) {
	if o.Client == nil {
		return nil, errors.New("an LLM client is required")
	}
	if o.Loop < 0 {
		return nil, fmt.Errorf("loop must be at least 1, got %d", o.Loop)
	}

	out := *o
	if out.Loop == 0 {
		out.Loop = DefaultLoop
	}
	if out.Model == "" {
		out.Model = out.Client.GetModelName()
	}
	if out.Logger == nil {
		out.Logger = logx.NewLogger("engine")
	}
	if out.Tokens == nil {
		out.Tokens = utils.DefaultTokenCounter()
	}
	if out.Metrics == nil {
		out.Metrics = metrics.Nop()
	}
	if out.Prompt == nil {
		p, err := prompt.NewDualMode()
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt templates: %w", err)
		}
		out.Prompt = p
	}
	if out.MaxConcurrentTools <= 0 {
		out.MaxConcurrentTools = sandbox.DefaultMaxConcurrentTools
	}
	if out.SlowToolWarning <= 0 {
		out.SlowToolWarning = tool.SlowToolWarning
	}
	if out.ContextWindow <= 0 {
		out.ContextWindow = DefaultContextWindow
	}
	return &out, nil
}
