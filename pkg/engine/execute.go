package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeloop/pkg/exit"
	"codeloop/pkg/llm"
	"codeloop/pkg/object"
	"codeloop/pkg/prompt"
	"codeloop/pkg/sandbox"
	"codeloop/pkg/schema"
	"codeloop/pkg/signals"
	"codeloop/pkg/tool"
	"codeloop/pkg/trace"
	"codeloop/pkg/truncator"
	"codeloop/pkg/utils"
)

const (
	abortedByUser  = "The operation was aborted by user."
	abortedTimeout = "The operation timed out."
)

// executeIteration runs prompt → model → sandbox → interpretation for it. Every path that
// returns nil has ended the iteration.
func (e *executor) executeIteration(ctx context.Context, it *Iteration) error {
	if ctx.Err() != nil {
		return e.abort(ctx, it)
	}

	messages, err := e.messages(it)
	if err != nil {
		return err
	}
	window := e.opts.ContextWindow
	outputBudget := truncator.ModelOutputLimit(window)
	messages, err = truncator.TruncateWrappedContent(messages, window-outputBudget, false, e.opts.Tokens)
	if err != nil {
		return fmt.Errorf("failed to truncate messages: %w", err)
	}
	it.Messages = messages

	resp, err := e.complete(ctx, it, outputBudget)
	if err != nil {
		if ctx.Err() != nil {
			return e.abort(ctx, it)
		}
		return err
	}

	it.Code = e.opts.Prompt.ParseAssistantResponse(resp.Content).Code

	scope, err := e.scope(it)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return e.abort(ctx, it)
	}

	out := sandbox.Run(ctx, scope, it.Code, it.Traces,
		sandbox.WithMaxConcurrentTools(e.opts.MaxConcurrentTools),
		sandbox.WithLogger(e.log.WithScope("sandbox")),
	)
	if out.Variables != nil {
		it.Variables = out.Variables
	}
	return e.interpret(ctx, it, out)
}

func (e *executor) complete(ctx context.Context, it *Iteration, maxTokens int) (llm.CompletionResponse, error) {
	system, rest := llm.SplitSystem(it.Messages)
	req := llm.CompletionRequest{
		System:         system,
		Messages:       rest,
		Model:          e.c.Model,
		Temperature:    e.c.Temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: llm.ResponseFormatText,
		StopSequences:  e.opts.Prompt.StopTokens(),
	}

	call := &LLMCall{StartedAt: time.Now(), Model: e.c.Model}
	it.LLM = call
	resp, err := e.opts.Client.Complete(ctx, req)
	call.EndedAt = time.Now()

	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = ErrNoOutput
	}
	call.Status = "success"
	if err != nil {
		call.Status = "error"
	}
	if resp.Model != "" {
		call.Model = resp.Model
	}
	call.Output = resp.Content
	call.InputTokens = resp.Usage.InputTokens
	call.OutputTokens = resp.Usage.OutputTokens
	call.Tokens = resp.Usage.Total()
	call.Spend = resp.Cost
	call.Cached = resp.Cached

	it.Traces.Push(trace.Trace{
		Kind:      trace.KindLLMCall,
		StartedAt: call.StartedAt,
		EndedAt:   call.EndedAt,
		Model:     call.Model,
		Status:    call.Status,
		Duration:  call.Duration(),
	})
	if err != nil {
		return resp, fmt.Errorf("llm call failed: %w", err)
	}
	return resp, nil
}

// scope binds the carried variables, every object and every global tool under each of
// its names.
func (e *executor) scope(it *Iteration) (*sandbox.Scope, error) {
	wrapOpts := []tool.WrapOption{
		tool.WithSlowWarning(e.opts.SlowToolWarning),
		tool.WithLogger(e.log.WithScope("tool")),
	}

	scope := sandbox.NewScope()
	if skipped := scope.AddVariables(it.Variables); len(skipped) > 0 {
		e.log.Debug("iteration %d: variables not bound: %s", it.Number, strings.Join(skipped, ", "))
	}
	for _, inst := range it.Objects {
		if err := scope.AddObject(object.Bind(inst, it.Traces, it, wrapOpts...)); err != nil {
			return nil, fmt.Errorf("failed to bind object %s: %w", inst.Name, err)
		}
	}
	for _, t := range it.Tools {
		invoke := tool.Wrap(t, it.Traces, "", wrapOpts...)
		for _, name := range t.Names() {
			if err := scope.AddTool(name, t, invoke); err != nil {
				return nil, fmt.Errorf("failed to bind tool %s: %w", name, err)
			}
		}
	}
	return scope, nil
}

func (e *executor) interpret(ctx context.Context, it *Iteration, out sandbox.Outcome) error {
	if out.Kind == sandbox.OutcomeFailure {
		var invalid *signals.InvalidCodeError
		if errors.As(out.Err, &invalid) {
			return it.End(StatusInvalidCodeError, Detail{Err: invalid})
		}
	}

	it.Traces.Push(trace.Trace{Kind: trace.KindCodeExecution, LinesExecuted: out.LinesExecuted})

	switch out.Kind {
	case sandbox.OutcomeOK:
		return e.resolveExit(ctx, it, out.ReturnValue)
	case sandbox.OutcomeThink:
		return it.End(StatusThinkingRequested, Detail{Think: out.Think})
	case sandbox.OutcomeInterrupt:
		return it.End(StatusCallbackRequested, Detail{Interrupt: out.Interrupt})
	case sandbox.OutcomeFailure:
		// A custom cancel cause matches neither context sentinel, so ctx decides.
		if ctx.Err() != nil || errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
			return e.abort(ctx, it)
		}
		var execErr *signals.CodeExecutionError
		if !errors.As(out.Err, &execErr) {
			execErr = &signals.CodeExecutionError{Message: out.Err.Error(), Stack: noStack, Code: it.Code}
		}
		return it.End(StatusExecutionError, Detail{Err: execErr})
	default:
		return fmt.Errorf("unexpected sandbox outcome %s", out.Kind)
	}
}

// resolveExit matches the returned action against the exits and validates its value.
func (e *executor) resolveExit(ctx context.Context, it *Iteration, returned any) error {
	normalized, err := schema.Normalize(returned)
	if err != nil {
		return it.End(StatusExitError, Detail{Err: fmt.Errorf("Invalid return value: %s", err.Error())}) //nolint:stylecheck // shown to the model
	}
	ret, _ := utils.AsObject(normalized)
	action := utils.FieldOr(ret, "action", "")
	valid := strings.Join(exit.ValidActions(it.Exits), ", ")

	if strings.EqualFold(action, exit.ThinkAction) {
		var vars any = it.Variables
		if extra := utils.Without(ret, "action"); extra != nil {
			vars = extra
		}
		return it.End(StatusThinkingRequested, Detail{Think: signals.Think("Thinking requested", vars)})
	}

	if action == "" {
		return it.End(StatusExitError, Detail{Err: fmt.Errorf("Code did not return an action. Valid actions are: %s", valid)}) //nolint:stylecheck // shown to the model
	}

	ex, ok := exit.Match(it.Exits, action)
	if !ok {
		return it.End(StatusExitError, Detail{Err: fmt.Errorf("Exit %q not found. Valid actions are: %s", action, valid)}) //nolint:stylecheck // shown to the model
	}

	value := ret["value"]
	if ex.Schema != nil {
		parsed, err := ex.Schema.Parse(value)
		if err != nil {
			return it.End(StatusExitError, Detail{Err: fmt.Errorf("Invalid return value for exit %s: %s", ex.Name, err.Error())}) //nolint:stylecheck // shown to the model
		}
		value = parsed
	}

	if err := e.onExit(ctx, ex, value); err != nil {
		return it.End(StatusExitError, Detail{Err: fmt.Errorf("Error executing exit %s: %s", ex.Name, err.Error())}) //nolint:stylecheck // shown to the model
	}
	return it.End(StatusExitSuccess, Detail{Exit: ex, ReturnValue: value})
}

func (e *executor) onExit(ctx context.Context, ex *exit.Exit, value any) (err error) {
	if e.opts.Hooks.OnExit == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return e.opts.Hooks.OnExit(ctx, ex, value)
}

// abort ends it as aborted with a reason derived from ctx.
func (e *executor) abort(ctx context.Context, it *Iteration) error {
	reason := abortedByUser
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = abortedTimeout
	}
	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() { //nolint:errorlint // identity check against ctx.Err
		reason = cause.Error()
	}

	it.Traces.Push(trace.Trace{Kind: trace.KindAbortSignal, Reason: reason})
	e.log.Warn("🛑 Iteration %d aborted: %s", it.Number, reason)
	return it.End(StatusAborted, Detail{Err: &AbortError{Reason: reason}})
}

// messages renders the system prompt, the initial user message and, for every earlier
// iteration, its code and the follow-up explaining how it ended.
func (e *executor) messages(it *Iteration) ([]llm.CompletionMessage, error) {
	props := prompt.Props{
		Instructions: it.Instructions,
		Objects:      it.Objects,
		GlobalTools:  it.Tools,
		Exits:        it.Exits,
		Transcript:   it.Transcript,
	}
	system, err := e.opts.Prompt.SystemMessage(props)
	if err != nil {
		return nil, fmt.Errorf("failed to render system message: %w", err)
	}
	user, err := e.opts.Prompt.InitialUserMessage(props)
	if err != nil {
		return nil, fmt.Errorf("failed to render user message: %w", err)
	}

	messages := []llm.CompletionMessage{system, user}
	for _, prev := range e.c.Iterations() {
		if prev == it {
			break
		}
		messages = append(messages, llm.NewAssistantMessage(prompt.FnStart+"\n"+prev.Code+"\n"+prompt.FnEnd))
		if follow, ok := e.followUp(prev); ok {
			messages = append(messages, follow)
		}
	}
	return messages, nil
}

func (e *executor) followUp(prev *Iteration) (llm.CompletionMessage, bool) {
	d := prev.Detail()
	switch prev.Status() {
	case StatusThinkingRequested:
		p := prompt.ThinkingProps{}
		if d.Think != nil {
			p.Reason = d.Think.Reason
			p.Variables = d.Think.Variables
		}
		return e.opts.Prompt.ThinkingMessage(p), true
	case StatusInvalidCodeError:
		p := prompt.InvalidCodeProps{Code: prev.Code}
		if d.Err != nil {
			p.Message = d.Err.Error()
		}
		return e.opts.Prompt.InvalidCodeMessage(p), true
	case StatusExecutionError:
		p := prompt.CodeExecutionErrorProps{Stack: noStack}
		var execErr *signals.CodeExecutionError
		if errors.As(d.Err, &execErr) {
			p.Message = execErr.Message
			if execErr.Stack != "" {
				p.Stack = execErr.Stack
			}
		} else if d.Err != nil {
			p.Message = d.Err.Error()
		}
		return e.opts.Prompt.CodeExecutionErrorMessage(p), true
	case StatusExitError:
		p := prompt.CodeExecutionErrorProps{Stack: noStack}
		if d.Err != nil {
			p.Message = d.Err.Error()
		}
		return e.opts.Prompt.CodeExecutionErrorMessage(p), true
	default:
		return llm.CompletionMessage{}, false
	}
}
