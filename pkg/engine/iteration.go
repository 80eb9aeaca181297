package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeloop/pkg/exit"
	"codeloop/pkg/llm"
	"codeloop/pkg/object"
	"codeloop/pkg/signals"
	"codeloop/pkg/tool"
	"codeloop/pkg/trace"
	"codeloop/pkg/transcript"
	"codeloop/pkg/utils"
)

// ErrIterationEnded is returned when ending an iteration that already has a status.
var ErrIterationEnded = errors.New("iteration already ended")

// LLMCall is the accounting of the model request made by an iteration.
type LLMCall struct {
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Model        string    `json:"model"`
	Status       string    `json:"status"`
	Output       string    `json:"output"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Tokens       int       `json:"tokens"`
	Spend        float64   `json:"spend"`
	Cached       bool      `json:"cached"`
}

// Duration returns how long the request took.
func (c *LLMCall) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

// AbortError is the error of an aborted iteration.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string { return e.Reason }

// Unwrap lets errors.Is match ErrAborted.
func (e *AbortError) Unwrap() error { return ErrAborted }

// Detail is the status-specific payload of an ended iteration.
//
//   - exit_success: Exit and ReturnValue
//   - thinking_requested: Think
//   - callback_requested: Interrupt
//   - exit_error, execution_error, invalid_code_error, aborted: Err
type Detail struct {
	Exit        *exit.Exit
	ReturnValue any
	Think       *signals.ThinkSignal
	Interrupt   *signals.InterruptSignal
	Err         error
}

// Iteration is one pass of the loop. Everything except the status payload is filled in
// while the pass runs; End freezes it.
//
//nolint:govet // fieldalignment: grouped by lifecycle
type Iteration struct {
	ID        string
	Number    int
	StartedAt time.Time

	// Resolved sources.
	Instructions string
	Objects      []*object.Instance
	Tools        []*tool.Tool
	Exits        []*exit.Exit
	Transcript   transcript.Transcript

	Messages  []llm.CompletionMessage
	LLM       *LLMCall
	Code      string
	Traces    *trace.Log
	Variables map[string]any

	mu        sync.Mutex
	mutations []object.Mutation
	status    Status
	detail    Detail
	endedAt   time.Time
}

func newIteration(number int, variables map[string]any) *Iteration {
	if variables == nil {
		variables = map[string]any{}
	}
	return &Iteration{
		ID:        uuid.NewString(),
		Number:    number,
		StartedAt: time.Now(),
		Traces:    trace.NewLog(),
		Variables: variables,
	}
}

// End sets the terminal status. It can only succeed once.
func (it *Iteration) End(status Status, detail Detail) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status != "" {
		return ErrIterationEnded
	}
	it.status = status
	it.detail = detail
	it.endedAt = time.Now()
	return nil
}

// Ended reports whether the iteration has a status.
func (it *Iteration) Ended() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status != ""
}

// Status returns the terminal status, or "" while running.
func (it *Iteration) Status() Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

// Detail returns the status payload.
func (it *Iteration) Detail() Detail {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.detail
}

// EndedAt returns when End succeeded.
func (it *Iteration) EndedAt() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.endedAt
}

// Duration returns the wall time of the iteration so far.
func (it *Iteration) Duration() time.Duration {
	if end := it.EndedAt(); !end.IsZero() {
		return end.Sub(it.StartedAt)
	}
	return time.Since(it.StartedAt)
}

// RecordMutation implements object.Recorder. Mutations after End are dropped.
func (it *Iteration) RecordMutation(m object.Mutation) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status != "" {
		return
	}
	it.mutations = append(it.mutations, m)
}

// Mutations returns the committed property writes in order.
func (it *Iteration) Mutations() []object.Mutation {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make([]object.Mutation, len(it.mutations))
	copy(out, it.mutations)
	return out
}

// nextVariables is what the following iteration starts with: the variables handed over by
// a think request when they form a map, the final variables otherwise. Keys that are not
// identifiers are dropped.
func (it *Iteration) nextVariables() map[string]any {
	if d := it.Detail(); d.Think != nil {
		if vars, ok := utils.AsObject(d.Think.Variables); ok {
			return utils.StripInvalidIdentifiers(vars)
		}
	}
	return utils.StripInvalidIdentifiers(it.Variables)
}
