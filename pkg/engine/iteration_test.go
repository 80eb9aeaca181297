package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloop/pkg/exit"
	"codeloop/pkg/object"
	"codeloop/pkg/signals"
	"codeloop/pkg/tool"
)

func TestIterationEndsOnce(t *testing.T) {
	it := newIteration(1, nil)
	assert.False(t, it.Ended())
	assert.Equal(t, Status(""), it.Status())
	assert.NotEmpty(t, it.ID)
	assert.NotNil(t, it.Variables)

	require.NoError(t, it.End(StatusExitError, Detail{Err: errors.New("first")}))
	assert.True(t, it.Ended())
	assert.False(t, it.EndedAt().IsZero())

	err := it.End(StatusExitSuccess, Detail{})
	assert.ErrorIs(t, err, ErrIterationEnded)
	assert.Equal(t, StatusExitError, it.Status())
	assert.EqualError(t, it.Detail().Err, "first")
}

func TestMutationsAreFrozenAfterEnd(t *testing.T) {
	it := newIteration(1, nil)
	it.RecordMutation(object.Mutation{Object: "o", Property: "p", Before: 1, After: 2})
	require.NoError(t, it.End(StatusExitSuccess, Detail{}))
	it.RecordMutation(object.Mutation{Object: "o", Property: "p", Before: 2, After: 3})

	muts := it.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, 2, muts[0].After)

	muts[0].After = 99
	assert.Equal(t, 2, it.Mutations()[0].After)
}

func TestNextVariables(t *testing.T) {
	tests := []struct {
		name   string
		vars   map[string]any
		detail Detail
		want   map[string]any
	}{
		{
			name: "final variables",
			vars: map[string]any{"a": 1, "not valid": 2},
			want: map[string]any{"a": 1},
		},
		{
			name:   "think map replaces variables",
			vars:   map[string]any{"a": 1},
			detail: Detail{Think: signals.Think("r", map[string]any{"b": 2, "class": 3})},
			want:   map[string]any{"b": 2},
		},
		{
			name:   "think payload that is not a map",
			vars:   map[string]any{"a": 1},
			detail: Detail{Think: signals.Think("r", []any{1, 2})},
			want:   map[string]any{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := newIteration(1, tt.vars)
			require.NoError(t, it.End(StatusThinkingRequested, tt.detail))
			assert.Equal(t, tt.want, it.nextVariables())
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	retryable := []Status{StatusThinkingRequested, StatusExitError, StatusExecutionError, StatusInvalidCodeError}
	for _, s := range retryable {
		assert.True(t, s.IsRetryable(), s)
	}
	for _, s := range []Status{StatusExitSuccess, StatusCallbackRequested, StatusAborted, Status("bogus")} {
		assert.False(t, s.IsRetryable(), s)
	}
}

func TestTerminalErrors(t *testing.T) {
	tests := []struct {
		status Status
		detail Detail
		want   string
	}{
		{StatusCallbackRequested, Detail{}, "callbacks are not yet implemented"},
		{StatusAborted, Detail{Err: &AbortError{Reason: "stopped"}}, "stopped"},
		{StatusAborted, Detail{}, "aborted"},
		{Status("mystery"), Detail{}, "unknown error. status: mystery"},
	}
	for _, tt := range tests {
		it := newIteration(1, nil)
		require.NoError(t, it.End(tt.status, tt.detail))
		if got := terminalError(it).Error(); got != tt.want {
			t.Errorf("terminalError(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestContextResolvesSources(t *testing.T) {
	calls := 0
	noop := &tool.Tool{Name: "noop", Execute: func(context.Context, any) (any, error) { return nil, nil }}
	c := newContext(&Options{
		Loop:         2,
		Instructions: Static("do it"),
		Tools: Computed(func(c *Context) ([]*tool.Tool, error) {
			calls++
			assert.Len(t, c.Iterations(), calls)
			return []*tool.Tool{noop}, nil
		}),
	})

	first, err := c.nextIteration()
	require.NoError(t, err)
	first.Variables = map[string]any{"x": 1}
	require.NoError(t, first.End(StatusExecutionError, Detail{}))

	second, err := c.nextIteration()
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, "do it", second.Instructions)
	assert.Equal(t, []*tool.Tool{noop}, second.Tools)
	assert.Equal(t, map[string]any{"x": 1}, second.Variables)
	assert.Equal(t, []*Iteration{first, second}, c.Iterations())
	assert.Same(t, second, c.LastIteration())
}

func TestContextRejectsInvalidCatalogue(t *testing.T) {
	c := newContext(&Options{
		Exits: Static([]*exit.Exit{{Name: "think"}}),
	})
	it, err := c.nextIteration()
	require.Error(t, err)
	assert.ErrorIs(t, err, exit.ErrInvalidExit)
	assert.Len(t, c.Iterations(), 1)
	assert.Same(t, it, c.LastIteration())
}

func TestSource(t *testing.T) {
	var zero Source[string]
	v, err := zero.Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.False(t, zero.IsComputed())

	v, err = Static("fixed").Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", v)

	computed := Computed(func(c *Context) (string, error) { return c.Model, nil })
	assert.True(t, computed.IsComputed())
	v, err = computed.Resolve(&Context{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", v)

	failing := Computed(func(*Context) (int, error) { return 0, errors.New("nope") })
	_, err = failing.Resolve(nil)
	assert.EqualError(t, err, "nope")
}
