// Package signals defines the control-flow signals and recoverable errors raised while
// generated code runs.
//
// Signals (think, interrupt) are requests, not failures: they travel as errors through
// tool calls and the sandbox so they can be classified with errors.As, but the engine never
// reports them as bugs. Abort is not a signal type; it is context cancellation.
package signals

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Signal marks an error value as a control-flow request.
type Signal interface {
	error
	isSignal()
}

// ThinkSignal asks the loop to stop, show Variables to the model and continue.
type ThinkSignal struct {
	Reason    string
	Variables any
}

// Think creates a ThinkSignal.
func Think(reason string, variables any) *ThinkSignal {
	return &ThinkSignal{Reason: reason, Variables: variables}
}

func (s *ThinkSignal) Error() string {
	if s.Reason == "" {
		return "think signal"
	}
	return "think signal: " + s.Reason
}

func (*ThinkSignal) isSignal() {}

// ToolCall identifies the tool that raised an InterruptSignal.
type ToolCall struct {
	Name         string `json:"name"`
	Input        any    `json:"input,omitempty"`
	InputSchema  any    `json:"input_schema,omitempty"`
	OutputSchema any    `json:"output_schema,omitempty"`
}

// InterruptSignal asks the loop to suspend at an asynchronous tool call.
// TruncatedCode is the code up to the interrupted call, when known.
type InterruptSignal struct {
	Message       string
	ToolCall      *ToolCall
	TruncatedCode string
}

// Execute creates an InterruptSignal. Tools return or raise it to request suspension.
func Execute(message string) *InterruptSignal {
	return &InterruptSignal{Message: message}
}

func (s *InterruptSignal) Error() string {
	return "interrupt signal: " + s.Message
}

func (*InterruptSignal) isSignal() {}

// Serialize renders the signal with its tool call as JSON, for logs and follow-up prompts.
func (s *InterruptSignal) Serialize() string {
	payload := struct {
		Message  string    `json:"message"`
		ToolCall *ToolCall `json:"tool_call,omitempty"`
	}{s.Message, s.ToolCall}
	data, err := json.Marshal(payload)
	if err != nil {
		return s.Message
	}
	return string(data)
}

// InvalidCodeError reports code that could not be compiled.
type InvalidCodeError struct {
	Message string
	Code    string
}

func (e *InvalidCodeError) Error() string { return e.Message }

// CodeExecutionError reports an uncaught runtime failure.
type CodeExecutionError struct {
	Message string
	Stack   string
	Code    string
}

func (e *CodeExecutionError) Error() string { return e.Message }

// AssignmentError reports a rejected property write.
type AssignmentError struct {
	Message string
}

func (e *AssignmentError) Error() string { return e.Message }

// NewAssignmentError formats an AssignmentError.
func NewAssignmentError(format string, args ...any) *AssignmentError {
	return &AssignmentError{Message: fmt.Sprintf(format, args...)}
}

// IsSignal reports whether err carries a think or interrupt signal.
func IsSignal(err error) bool {
	var s Signal
	return errors.As(err, &s)
}

// AsThink extracts a ThinkSignal from err.
func AsThink(err error) (*ThinkSignal, bool) {
	var s *ThinkSignal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// AsInterrupt extracts an InterruptSignal from err.
func AsInterrupt(err error) (*InterruptSignal, bool) {
	var s *InterruptSignal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// FromValue converts a value returned by a tool into a signal error, or nil.
func FromValue(v any) error {
	switch s := v.(type) {
	case *ThinkSignal:
		return s
	case *InterruptSignal:
		return s
	}
	return nil
}
