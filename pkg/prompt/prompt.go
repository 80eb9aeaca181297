// Package prompt renders the messages sent to the model: the system prompt, the initial
// user message and the follow-ups that explain what happened in the previous iteration.
//
// Every renderer is a pure function of its props.
package prompt

import (
	"codeloop/pkg/exit"
	"codeloop/pkg/llm"
	"codeloop/pkg/object"
	"codeloop/pkg/snapshot"
	"codeloop/pkg/tool"
	"codeloop/pkg/transcript"
)

// Markers around generated code.
const (
	FnStart = "■fn_start"
	FnEnd   = "■fn_end"
)

// VMName is the author name of follow-up messages.
const VMName = "VM"

// Props is what the system prompt and initial user message are built from.
type Props struct {
	Instructions string
	Objects      []*object.Instance
	GlobalTools  []*tool.Tool
	Exits        []*exit.Exit
	Transcript   transcript.Transcript
}

// ThinkingProps feeds ThinkingMessage. Variables may be a map, a slice, a string or any value.
type ThinkingProps struct {
	Reason    string
	Variables any
}

// InvalidCodeProps feeds InvalidCodeMessage.
type InvalidCodeProps struct {
	Code    string
	Message string
}

// CodeExecutionErrorProps feeds CodeExecutionErrorMessage.
type CodeExecutionErrorProps struct {
	Message string
	Stack   string
}

// SnapshotResolvedProps feeds SnapshotResolvedMessage.
type SnapshotResolvedProps struct {
	Result snapshot.Result
	// InjectedVariables are the variables already bound for the next run.
	InjectedVariables map[string]any
}

// SnapshotRejectedProps feeds SnapshotRejectedMessage.
type SnapshotRejectedProps struct {
	Result snapshot.Result
}

// AssistantResponse is the parsed model output.
type AssistantResponse struct {
	Raw  string
	Code string
}

// Prompt renders every message of a run.
type Prompt interface {
	SystemMessage(p Props) (llm.CompletionMessage, error)
	InitialUserMessage(p Props) (llm.CompletionMessage, error)
	ThinkingMessage(p ThinkingProps) llm.CompletionMessage
	InvalidCodeMessage(p InvalidCodeProps) llm.CompletionMessage
	CodeExecutionErrorMessage(p CodeExecutionErrorProps) llm.CompletionMessage
	// SnapshotResolvedMessage also returns the variables to bind for the resumed run.
	SnapshotResolvedMessage(p SnapshotResolvedProps) (llm.CompletionMessage, map[string]any)
	SnapshotRejectedMessage(p SnapshotRejectedProps) llm.CompletionMessage
	StopTokens() []string
	ParseAssistantResponse(text string) AssistantResponse
}
