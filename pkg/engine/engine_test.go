package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloop/internal/mocks"
	"codeloop/pkg/exit"
	"codeloop/pkg/llm"
	"codeloop/pkg/metrics"
	"codeloop/pkg/object"
	"codeloop/pkg/schema"
	"codeloop/pkg/signals"
	"codeloop/pkg/tool"
	"codeloop/pkg/trace"
	"codeloop/pkg/transcript"
)

func doneExit() []*exit.Exit {
	return []*exit.Exit{{Name: "done", Description: "The task is complete"}}
}

func baseOptions(client *mocks.MockLLMClient) Options {
	return Options{
		Loop:         3,
		Instructions: Static("Count things"),
		Exits:        Static(doneExit()),
		Client:       client,
	}
}

func statuses(res *Result) []Status {
	out := make([]Status, 0, len(res.Iterations))
	for _, it := range res.Iterations {
		out = append(out, it.Status())
	}
	return out
}

func TestExecuteSingleExit(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`return { action: "done" }`)

	res := Execute(context.Background(), baseOptions(client))

	require.True(t, res.Succeeded(), res.Error)
	require.Len(t, res.Iterations, 1)
	it := res.Iterations[0]
	assert.Equal(t, StatusExitSuccess, it.Status())
	assert.Nil(t, res.Value())
	e, ok := res.Exit()
	require.True(t, ok)
	assert.Equal(t, "done", e.Name)

	assert.Equal(t, `return { action: "done" }`, it.Code)
	require.NotNil(t, it.LLM)
	assert.Equal(t, "success", it.LLM.Status)
	assert.Equal(t, "mock-model", it.LLM.Model)
	assert.Len(t, it.Traces.OfKind(trace.KindLLMCall), 1)
	assert.Len(t, it.Traces.OfKind(trace.KindCodeExecution), 1)

	req := client.LastCompleteCall()
	require.NotNil(t, req)
	assert.Contains(t, req.System, "Count things")
	assert.Equal(t, []string{"■fn_end"}, req.StopSequences)
	assert.Equal(t, llm.ResponseFormatText, req.ResponseFormat)
	for _, m := range req.Messages {
		assert.NotEqual(t, llm.RoleSystem, m.Role)
		assert.NotEmpty(t, strings.TrimSpace(m.Content))
	}
}

func TestLoopLimitWithThinkSignals(t *testing.T) {
	reflect := &tool.Tool{
		Name: "reflect",
		Execute: func(context.Context, any) (any, error) {
			return nil, signals.Think("need more data", map[string]any{"seen": 1})
		},
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`reflect({})`)

	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{reflect})
	res := Execute(context.Background(), opts)

	assert.Equal(t, RunError, res.Status)
	assert.Equal(t, "loop limit exceeded. maximum allowed loops: 3", res.Error)
	assert.ErrorIs(t, res.Err, ErrLoopLimit)
	assert.Equal(t, []Status{StatusThinkingRequested, StatusThinkingRequested, StatusThinkingRequested}, statuses(res))
	assert.Equal(t, 3, client.GetCompleteCallCount())

	// The think payload is carried into the next iteration.
	assert.EqualValues(t, 1, res.Iterations[1].Variables["seen"])
	assert.True(t, client.AssertCompleteCalledWith("need more data"))
}

func TestLoopNeverExceedsLimit(t *testing.T) {
	for _, loop := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("loop=%d", loop), func(t *testing.T) {
			client := mocks.NewMockLLMClient()
			client.RespondWithCode(`throw new Error("again")`)

			opts := baseOptions(client)
			opts.Loop = loop
			res := Execute(context.Background(), opts)

			assert.Equal(t, RunError, res.Status)
			assert.Len(t, res.Iterations, loop)
			assert.Equal(t, loop, client.GetCompleteCallCount())
			assert.Contains(t, res.Error, fmt.Sprintf("maximum allowed loops: %d", loop))
		})
	}
}

func TestExitErrors(t *testing.T) {
	countSchema := schema.MustFromMap(map[string]any{
		"type":       "object",
		"properties": map[string]any{"count": map[string]any{"type": "integer"}},
		"required":   []any{"count"},
	})
	exits := []*exit.Exit{
		{Name: "done", Aliases: []string{"finish"}, Schema: countSchema},
		{Name: "giveUp"},
	}

	tests := []struct {
		name    string
		code    string
		message string
	}{
		{"unknown action", `return { action: "unknown_exit" }`, `Exit "unknown_exit" not found. Valid actions are: done, finish, giveup, think`},
		{"no action", `return 42`, "Code did not return an action. Valid actions are: done, finish, giveup, think"},
		{"undefined", `const x = 1`, "Code did not return an action."},
		{"action is not a string", `return { action: 7 }`, "Code did not return an action."},
		{"schema failure", `return { action: "done", value: { count: "many" } }`, "Invalid return value for exit done:"},
		{"missing value", `return { action: "DONE" }`, "Invalid return value for exit done:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockLLMClient()
			client.RespondWithCode(tt.code)

			opts := baseOptions(client)
			opts.Loop = 1
			opts.Exits = Static(exits)
			res := Execute(context.Background(), opts)

			require.Len(t, res.Iterations, 1)
			it := res.Iterations[0]
			assert.Equal(t, StatusExitError, it.Status())
			require.Error(t, it.Detail().Err)
			if !strings.Contains(it.Detail().Err.Error(), tt.message) {
				t.Errorf("exit error %q does not contain %q", it.Detail().Err, tt.message)
			}
			assert.ErrorIs(t, res.Err, ErrLoopLimit)
		})
	}
}

func TestExitValueIsValidatedAndCoerced(t *testing.T) {
	exits := []*exit.Exit{{
		Name: "done",
		Schema: schema.MustFromMap(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
				"unit":  map[string]any{"type": "string", "default": "items"},
			},
			"required": []any{"count"},
		}),
	}}

	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`return { action: "done", value: { count: "three" } }`),
		mocks.Code(`return { action: "finished", value: { count: 3 } }`),
		mocks.Code(`return { action: "Done", value: { count: 3 } }`),
	)

	opts := baseOptions(client)
	opts.Exits = Static(exits)
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []Status{StatusExitError, StatusExitError, StatusExitSuccess}, statuses(res))
	assert.Equal(t, map[string]any{"count": float64(3), "unit": "items"}, res.Value())

	var decoded struct {
		Count int    `json:"count"`
		Unit  string `json:"unit"`
	}
	require.NoError(t, res.Decode(&decoded))
	assert.Equal(t, 3, decoded.Count)
	assert.Equal(t, "items", decoded.Unit)

	// The exit error is fed back to the model.
	second := client.GetNthCompleteCall(1)
	require.NotNil(t, second)
	assert.Contains(t, second.Messages[len(second.Messages)-1].Content, "Invalid return value for exit done")
}

func TestThinkActionCarriesFields(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`return { action: "think", total: 40 + 2 }`),
		mocks.Code(`return { action: "done", value: total }`),
	)

	res := Execute(context.Background(), baseOptions(client))

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []Status{StatusThinkingRequested, StatusExitSuccess}, statuses(res))
	think := res.Iterations[0].Detail().Think
	require.NotNil(t, think)
	assert.Equal(t, "Thinking requested", think.Reason)
	assert.Equal(t, float64(42), res.Value())

	second := client.GetNthCompleteCall(1)
	require.NotNil(t, second)
	msgs := second.Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, llm.RoleAssistant, msgs[len(msgs)-2].Role)
	assert.Equal(t, "■fn_start\nreturn { action: \"think\", total: 40 + 2 }\n■fn_end", msgs[len(msgs)-2].Content)
	assert.Contains(t, msgs[len(msgs)-1].Content, "The assistant requested to think")
	assert.Equal(t, "VM", msgs[len(msgs)-1].Name)
}

func TestThinkWithoutFieldsKeepsVariables(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`return { action: "think", note: "hello" }`),
		mocks.Code(`return { action: "think" }`),
		mocks.Code(`return { action: "done", value: note }`),
	)

	res := Execute(context.Background(), baseOptions(client))

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, "hello", res.Value())
}

func TestAbortBeforeSandbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := mocks.NewMockLLMClient()
	client.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		cancel()
		return llm.CompletionResponse{Content: mocks.Code(`return { action: "done" }`)}, nil
	})

	res := Execute(ctx, baseOptions(client))

	assert.Equal(t, RunError, res.Status)
	assert.Equal(t, "The operation was aborted by user.", res.Error)
	assert.ErrorIs(t, res.Err, ErrAborted)
	require.Len(t, res.Iterations, 1)
	it := res.Iterations[0]
	assert.Equal(t, StatusAborted, it.Status())
	assert.Empty(t, it.Traces.OfKind(trace.KindCodeExecution))
	aborts := it.Traces.OfKind(trace.KindAbortSignal)
	require.Len(t, aborts, 1)
	assert.Equal(t, "The operation was aborted by user.", aborts[0].Reason)
}

func TestAbortBeforeLLMCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := mocks.NewMockLLMClient()
	res := Execute(ctx, baseOptions(client))

	assert.Equal(t, RunError, res.Status)
	assert.Equal(t, 0, client.GetCompleteCallCount())
	require.Len(t, res.Iterations, 1)
	assert.Equal(t, StatusAborted, res.Iterations[0].Status())
}

func TestAbortWithCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.New("user pressed stop"))

	res := Execute(ctx, baseOptions(mocks.NewMockLLMClient()))
	assert.Equal(t, "user pressed stop", res.Error)
}

func TestAbortWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wait := &tool.Tool{
		Name: "wait",
		Execute: func(ctx context.Context, _ any) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Async: true,
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`await wait({}); return { action: "done" }`)

	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{wait})
	res := Execute(ctx, opts)

	require.Len(t, res.Iterations, 1)
	assert.Equal(t, StatusAborted, res.Iterations[0].Status())
	assert.ErrorIs(t, res.Err, ErrAborted)
}

func TestAbortWhileRunningWithCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	wait := &tool.Tool{
		Name: "wait",
		Execute: func(ctx context.Context, _ any) (any, error) {
			cancel(errors.New("user pressed stop"))
			<-ctx.Done()
			return nil, context.Cause(ctx)
		},
		Async: true,
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`await wait({}); return { action: "done" }`)

	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{wait})
	res := Execute(ctx, opts)

	require.Len(t, res.Iterations, 1)
	it := res.Iterations[0]
	assert.Equal(t, StatusAborted, it.Status())
	assert.ErrorIs(t, res.Err, ErrAborted)
	assert.EqualError(t, it.Detail().Err, "user pressed stop")
	assert.Equal(t, 1, client.GetCompleteCallCount())
}

func TestLLMFailuresAreExecutionErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mocks.MockLLMClient)
		message string
	}{
		{"error", func(c *mocks.MockLLMClient) { c.FailCompleteWith(errors.New("boom")) }, "an unexpected error occurred: llm call failed: boom"},
		{"empty output", func(c *mocks.MockLLMClient) { c.RespondWith("  \n") }, "an unexpected error occurred: llm call failed: no output from LLM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockLLMClient()
			tt.setup(client)

			opts := baseOptions(client)
			opts.Loop = 2
			res := Execute(context.Background(), opts)

			assert.Equal(t, []Status{StatusExecutionError, StatusExecutionError}, statuses(res))
			var execErr *signals.CodeExecutionError
			require.ErrorAs(t, res.Iterations[0].Detail().Err, &execErr)
			assert.Equal(t, tt.message, execErr.Message)
			assert.Equal(t, "No stack trace available", execErr.Stack)
			assert.Equal(t, "error", res.Iterations[0].LLM.Status)
			assert.ErrorIs(t, res.Err, ErrLoopLimit)
		})
	}
}

func TestInvalidCodeIsRetried(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`return {`),
		mocks.Code(`return { action: "done" }`),
	)

	res := Execute(context.Background(), baseOptions(client))

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []Status{StatusInvalidCodeError, StatusExitSuccess}, statuses(res))
	first := res.Iterations[0]
	assert.Empty(t, first.Traces.OfKind(trace.KindCodeExecution))
	var invalid *signals.InvalidCodeError
	require.ErrorAs(t, first.Detail().Err, &invalid)
	assert.Equal(t, "return {", invalid.Code)

	assert.True(t, client.AssertCompleteCalledWith("The code you provided is invalid"))
}

func TestDeclaredVariablesCarryAcrossIterations(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code("const total = 42\nthrow new Error('not yet')"),
		mocks.Code(`return { action: "done" }`),
	)

	res := Execute(context.Background(), baseOptions(client))

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []Status{StatusExecutionError, StatusExitSuccess}, statuses(res))
	assert.EqualValues(t, 42, res.Iterations[1].Variables["total"])
}

func TestExecutionErrorIsRetried(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`throw new Error("kaput")`),
		mocks.Code(`return { action: "done", value: "recovered" }`),
	)

	res := Execute(context.Background(), baseOptions(client))

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []Status{StatusExecutionError, StatusExitSuccess}, statuses(res))
	assert.Equal(t, "recovered", res.Value())

	second := client.GetNthCompleteCall(1)
	require.NotNil(t, second)
	last := second.Messages[len(second.Messages)-1].Content
	assert.Contains(t, last, "An error occurred while executing the code.")
	assert.Contains(t, last, "kaput")
}

func TestCallbackRequestedIsTerminal(t *testing.T) {
	ask := &tool.Tool{
		Name: "askHuman",
		Execute: func(context.Context, any) (any, error) {
			return signals.Execute("waiting for a human"), nil
		},
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode("const answer = askHuman({ question: 'ok?' })\nreturn { action: 'done', value: answer }")

	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{ask})
	res := Execute(context.Background(), opts)

	assert.Equal(t, RunError, res.Status)
	assert.Equal(t, "callbacks are not yet implemented", res.Error)
	require.Len(t, res.Iterations, 1)
	it := res.Iterations[0]
	assert.Equal(t, StatusCallbackRequested, it.Status())
	require.NotNil(t, it.Detail().Interrupt)
	assert.Equal(t, "askHuman", it.Detail().Interrupt.ToolCall.Name)
	assert.Len(t, it.Traces.OfKind(trace.KindExecuteSignal), 1)
}

func TestOnExitCanVeto(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`return { action: "done", value: 1 }`)

	var calls int
	opts := baseOptions(client)
	opts.Loop = 2
	opts.Hooks.OnExit = func(_ context.Context, e *exit.Exit, value any) error {
		calls++
		assert.Equal(t, "done", e.Name)
		assert.Equal(t, float64(1), value)
		if calls == 1 {
			return errors.New("not yet")
		}
		return nil
	}
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []Status{StatusExitError, StatusExitSuccess}, statuses(res))
	assert.EqualError(t, res.Iterations[0].Detail().Err, "Error executing exit done: not yet")
}

func TestHookFailuresAreIsolated(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`console.log("hi"); return { action: "done" }`)

	var ended []int
	opts := baseOptions(client)
	opts.Hooks.OnIterationEnd = func(_ context.Context, it *Iteration) error {
		ended = append(ended, it.Number)
		return errors.New("hook broke")
	}
	opts.Hooks.OnTrace = func(TraceEvent) { panic("trace hook broke") }
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []int{1}, ended)
}

func TestOnTraceReceivesIterationTraces(t *testing.T) {
	lookup := &tool.Tool{
		Name:    "lookup",
		Aliases: []string{"find"},
		Execute: func(_ context.Context, input any) (any, error) {
			return map[string]any{"input": input}, nil
		},
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`throw new Error("first")`),
		mocks.Code(`const a = find({ q: "x" }); return { action: "done", value: a }`),
	)

	var (
		mu     sync.Mutex
		events []TraceEvent
	)
	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{lookup})
	opts.Hooks.OnTrace = func(ev TraceEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, map[string]any{"input": map[string]any{"q": "x"}}, res.Value())

	var toolCalls int
	for _, ev := range events {
		if ev.Trace.Kind == trace.KindToolCall {
			toolCalls++
			assert.Equal(t, 2, ev.Iteration)
			assert.Equal(t, "lookup", ev.Trace.ToolName)
		}
	}
	assert.Equal(t, 1, toolCalls)
	assert.Len(t, events, res.Iterations[0].Traces.Len()+res.Iterations[1].Traces.Len())

	for _, it := range res.Iterations {
		assert.Zero(t, it.Traces.Subscribers(), "iteration %d still has subscribers", it.Number)
	}
}

func TestObjectMutations(t *testing.T) {
	newCounter := func() *object.Instance {
		return &object.Instance{
			Name: "counter",
			Properties: []*object.PropertyDef{
				{Name: "value", Value: 0, Writable: true, Schema: schema.MustFromMap(map[string]any{"type": "integer"})},
				{Name: "limit", Value: 10},
			},
		}
	}

	tests := []struct {
		name      string
		code      string
		status    Status
		mutations int
		message   string
		final     any
	}{
		{"valid write", "counter.value = 5\nreturn { action: 'done' }", StatusExitSuccess, 1, "", float64(5)},
		{"equal write", "counter.value = 0\nreturn { action: 'done' }", StatusExitSuccess, 0, "", 0},
		{"read-only", "counter.limit = 11\nreturn { action: 'done' }", StatusExecutionError, 0, "Property counter.limit is read-only and cannot be modified", 0},
		{"invalid", "counter.value = 'lots'\nreturn { action: 'done' }", StatusExecutionError, 0, "Invalid value for Object property counter.value", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := newCounter()
			client := mocks.NewMockLLMClient()
			client.RespondWithCode(tt.code)

			opts := baseOptions(client)
			opts.Loop = 1
			opts.Objects = Static([]*object.Instance{counter})
			res := Execute(context.Background(), opts)

			require.Len(t, res.Iterations, 1)
			it := res.Iterations[0]
			assert.Equal(t, tt.status, it.Status())
			assert.Len(t, it.Mutations(), tt.mutations)
			assert.Len(t, it.Traces.OfKind(trace.KindProperty), tt.mutations)
			if tt.message != "" {
				require.Error(t, it.Detail().Err)
				assert.Contains(t, it.Detail().Err.Error(), tt.message)
			}
			value, _ := counter.Value("value")
			assert.EqualValues(t, tt.final, value)
			limit, _ := counter.Value("limit")
			assert.EqualValues(t, 10, limit)
		})
	}
}

func TestMutationRecord(t *testing.T) {
	counter := &object.Instance{
		Name: "counter",
		Properties: []*object.PropertyDef{
			{Name: "value", Value: 1, Writable: true},
		},
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode("counter.value = counter.value + 1\nreturn { action: 'done' }")

	opts := baseOptions(client)
	opts.Objects = Static([]*object.Instance{counter})
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	muts := res.Iterations[0].Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "counter", muts[0].Object)
	assert.Equal(t, "value", muts[0].Property)
	assert.EqualValues(t, 1, muts[0].Before)
	assert.EqualValues(t, 2, muts[0].After)
}

func TestComputedSources(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence(
		mocks.Code(`return { action: "think" }`),
		mocks.Code(`return { action: "done" }`),
	)

	opts := baseOptions(client)
	opts.Instructions = Computed(func(c *Context) (string, error) {
		return fmt.Sprintf("Attempt number %d", len(c.Iterations())), nil
	})
	opts.Transcript = Static(transcript.Transcript{{Role: transcript.RoleUser, Name: "ana", Content: "How many?"}})
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, "Attempt number 1", res.Iterations[0].Instructions)
	assert.Equal(t, "Attempt number 2", res.Iterations[1].Instructions)
	assert.Contains(t, client.GetNthCompleteCall(1).System, "Attempt number 2")
	assert.Contains(t, client.GetNthCompleteCall(0).Messages[0].Content, "How many?")
}

func TestSourceErrorsEndIteration(t *testing.T) {
	client := mocks.NewMockLLMClient()
	opts := baseOptions(client)
	opts.Loop = 1
	opts.Tools = Computed(func(*Context) ([]*tool.Tool, error) {
		return nil, errors.New("registry offline")
	})
	res := Execute(context.Background(), opts)

	require.Len(t, res.Iterations, 1)
	assert.Equal(t, StatusExecutionError, res.Iterations[0].Status())
	assert.Contains(t, res.Iterations[0].Detail().Err.Error(), "failed to resolve tools: registry offline")
	assert.Equal(t, 0, client.GetCompleteCallCount())
}

func TestChatModeIsSelectedByMessageTool(t *testing.T) {
	var said []string
	message := &tool.Tool{
		Name: "message",
		Execute: func(_ context.Context, input any) (any, error) {
			said = append(said, fmt.Sprint(input))
			return nil, nil
		},
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`message("hello there"); return { action: "done" }`)

	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{message})
	res := Execute(context.Background(), opts)

	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []string{"hello there"}, said)
	assert.Contains(t, client.LastCompleteCall().System, "conversational assistant")
}

func TestMetricsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	lookup := &tool.Tool{
		Name:    "lookup",
		Execute: func(context.Context, any) (any, error) { return 1, nil },
	}
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`lookup({}); return { action: "done" }`)

	opts := baseOptions(client)
	opts.Tools = Static([]*tool.Tool{lookup})
	opts.Metrics = metrics.NewPrometheusRecorder(reg)
	res := Execute(context.Background(), opts)
	require.True(t, res.Succeeded(), res.Error)

	count, err := testutil.GatherAndCount(reg, "codeloop_runs_total", "codeloop_iterations_total", "codeloop_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestOptionsValidation(t *testing.T) {
	res := Execute(context.Background(), Options{})
	assert.Equal(t, RunError, res.Status)
	assert.Empty(t, res.Iterations)
	assert.Nil(t, res.Context)

	res = Execute(context.Background(), Options{Loop: -1, Client: mocks.NewMockLLMClient()})
	assert.Equal(t, RunError, res.Status)
	assert.Contains(t, res.Error, "loop must be at least 1")

	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`return { action: "think" }`)
	res = Execute(context.Background(), Options{Client: client})
	assert.Len(t, res.Iterations, DefaultLoop)
	assert.Equal(t, "mock-model", res.Context.Model)
}

func TestDecodeRequiresSuccess(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithCode(`return { action: "nope" }`)
	opts := baseOptions(client)
	opts.Loop = 1

	res := Execute(context.Background(), opts)
	var v any
	assert.ErrorIs(t, res.Decode(&v), ErrNoExit)
	_, ok := res.Exit()
	assert.False(t, ok)
	assert.Nil(t, res.Value())
}
