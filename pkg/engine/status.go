package engine

import (
	"errors"
	"fmt"
)

// Status is the terminal state of an Iteration.
type Status string

// Iteration statuses. The zero Status means the iteration has not ended.
const (
	StatusExitSuccess       Status = "exit_success"
	StatusExitError         Status = "exit_error"
	StatusExecutionError    Status = "execution_error"
	StatusInvalidCodeError  Status = "invalid_code_error"
	StatusThinkingRequested Status = "thinking_requested"
	StatusCallbackRequested Status = "callback_requested"
	StatusAborted           Status = "aborted"
)

// Errors that end a run.
var (
	ErrLoopLimit         = errors.New("loop limit exceeded")
	ErrCallbacksNotReady = errors.New("callbacks are not yet implemented")
	ErrNoOutput          = errors.New("no output from LLM")
	ErrAborted           = errors.New("aborted")
)

// transition is what the loop does after an iteration ends.
type transition int

const (
	transitionRetry transition = iota
	transitionSucceed
	transitionFail
)

// statusTransitions maps every known status to its loop transition.
var statusTransitions = map[Status]transition{ //nolint:gochecknoglobals // static table
	StatusExitSuccess:       transitionSucceed,
	StatusThinkingRequested: transitionRetry,
	StatusExitError:         transitionRetry,
	StatusExecutionError:    transitionRetry,
	StatusInvalidCodeError:  transitionRetry,
	StatusCallbackRequested: transitionFail,
	StatusAborted:           transitionFail,
}

// IsRetryable reports whether the loop continues after an iteration ending with s.
func (s Status) IsRetryable() bool {
	t, ok := statusTransitions[s]
	return ok && t == transitionRetry
}

// terminalError is the run error for an iteration whose status stops the loop.
func terminalError(it *Iteration) error {
	switch it.Status() {
	case StatusCallbackRequested:
		return ErrCallbacksNotReady
	case StatusAborted:
		if err := it.Detail().Err; err != nil {
			return err
		}
		return ErrAborted
	default:
		return fmt.Errorf("unknown error. status: %s", it.Status())
	}
}
