// Package openai implements llm.LLMClient on the official OpenAI Go SDK using the Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"codeloop/pkg/llm"
	"codeloop/pkg/llm/llmerrors"
)

const providerName = "openai"

// Client wraps the official OpenAI client.
//
//nolint:govet // Simple struct
type Client struct {
	client          openai.Client
	model           string
	maxOutputTokens int
}

// NewClientWithModel creates a raw OpenAI client. maxOutputTokens caps requests when positive.
func NewClientWithModel(apiKey, model string, maxOutputTokens int, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client:          openai.NewClient(opts...),
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
}

// flattenTranscript renders the conversation as a single input string. The Responses API
// receives the system prompt separately as instructions.
func flattenTranscript(messages []llm.CompletionMessage) string {
	var b strings.Builder
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", msg.Content)
		default:
			fmt.Fprintf(&b, "User: %s\n\n", msg.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	system, rest := llm.SplitSystem(in.Messages)
	if in.System != "" {
		system = strings.TrimSpace(in.System + "\n\n" + system)
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if o.maxOutputTokens > 0 && maxTokens > o.maxOutputTokens {
		maxTokens = o.maxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Temperature:     openai.Float(float64(in.Temperature)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(flattenTranscript(rest))},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(providerName, err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	// The Responses API has no stop parameter, so sequences are enforced here.
	content := llm.ApplyStopSequences(resp.OutputText(), in.StopSequences)
	stopReason := "end_turn"
	if len(content) < len(resp.OutputText()) {
		stopReason = "stop_sequence"
	} else if resp.IncompleteDetails.Reason == "max_output_tokens" {
		stopReason = "max_tokens"
	}

	return llm.CompletionResponse{
		Content:    content,
		StopReason: stopReason,
		Model:      providerName + ":" + o.model,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}
