// Package llm provides interfaces and types for Large Language Model client implementations.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user or the VM.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message produced by the model.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// TemperatureDefault is the sampling temperature used when none is configured.
	TemperatureDefault = 0.7

	// DefaultMaxTokens is the output budget used when a request leaves MaxTokens unset.
	DefaultMaxTokens = 4096
)

// ResponseFormat selects the shape of the model output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
	// Name tags the author of a user message, e.g. "VM" for follow-up messages.
	Name string `json:"name,omitempty"`
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	System         string
	Messages       []CompletionMessage
	Model          string
	StopSequences  []string
	ResponseFormat ResponseFormat
	MaxTokens      int
	Temperature    float32
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// CompletionResponse represents a response from a completion request.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionResponse struct {
	Content    string
	StopReason string // "end_turn", "max_tokens", "stop_sequence", ...
	Model      string // provider:model that actually served the request
	Usage      Usage
	Cost       float64 // USD
	Cached     bool
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // Keep name for backward compatibility
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this LLM client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:       messages,
		MaxTokens:      DefaultMaxTokens,
		Temperature:    TemperatureDefault,
		ResponseFormat: ResponseFormatText,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleAssistant,
		Content: content,
	}
}

// SplitSystem separates system messages from the conversation, joining them with blank lines.
func SplitSystem(messages []CompletionMessage) (system string, rest []CompletionMessage) {
	var parts []string
	for i := range messages {
		if messages[i].Role == RoleSystem {
			parts = append(parts, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(parts, "\n\n"), rest
}

// ApplyStopSequences cuts content at the first occurrence of any stop sequence.
// Providers that stop server-side never include the sequence, so this is a no-op for them.
func ApplyStopSequences(content string, stops []string) string {
	cut := len(content)
	for _, s := range stops {
		if s == "" {
			continue
		}
		if idx := strings.Index(content, s); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return content[:cut]
}

// LLMConfig represents configuration for an LLM client.
type LLMConfig struct { //nolint:revive // Keep name for backward compatibility
	APIKey           string
	ModelName        string
	MaxTokens        int
	Temperature      float32
	MaxContextTokens int
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
