// Package trace records what happened during one iteration.
package trace

import (
	"sync"
	"time"
)

// Kind tags a Trace.
type Kind string

// Trace kinds.
const (
	KindLLMCall       Kind = "llm_call"
	KindToolCall      Kind = "tool_call"
	KindToolSlow      Kind = "tool_slow"
	KindProperty      Kind = "property"
	KindThinkSignal   Kind = "think_signal"
	KindExecuteSignal Kind = "execute_signal"
	KindAbortSignal   Kind = "abort_signal"
	KindCodeExecution Kind = "code_execution"
	KindLog           Kind = "log"
)

// Trace is one observable event. Which fields are set depends on Kind.
//
//nolint:govet // grouped by kind for readability
type Trace struct {
	Kind      Kind      `json:"type"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// llm_call
	Model  string `json:"model,omitempty"`
	Status string `json:"status,omitempty"`

	// tool_call, tool_slow
	ToolName string        `json:"tool_name,omitempty"`
	Object   string        `json:"object,omitempty"`
	Input    any           `json:"input,omitempty"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Success  bool          `json:"success,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// property
	Property string `json:"property,omitempty"`
	Value    any    `json:"value,omitempty"`

	// abort_signal
	Reason string `json:"reason,omitempty"`

	// code_execution
	LinesExecuted int `json:"lines_executed,omitempty"`

	// log
	Message string `json:"message,omitempty"`
}

// Log is an append-only, concurrency-safe trace list with push subscribers.
type Log struct {
	traces []Trace
	subs   map[int]func(Trace)
	nextID int
	mu     sync.Mutex
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{subs: make(map[int]func(Trace))}
}

// Push appends t and notifies subscribers outside the lock.
func (l *Log) Push(t Trace) {
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}

	l.mu.Lock()
	l.traces = append(l.traces, t)
	subs := make([]func(Trace), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

// Subscribe registers fn for future pushes. The returned func unsubscribes and is idempotent.
func (l *Log) Subscribe(fn func(Trace)) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (l *Log) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// All returns a copy of the recorded traces in push order.
func (l *Log) All() []Trace {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trace, len(l.traces))
	copy(out, l.traces)
	return out
}

// Len returns the number of traces.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.traces)
}

// OfKind returns the traces with kind k.
func (l *Log) OfKind(k Kind) []Trace {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Trace
	for i := range l.traces {
		if l.traces[i].Kind == k {
			out = append(out, l.traces[i])
		}
	}
	return out
}
