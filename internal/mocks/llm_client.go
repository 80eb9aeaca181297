package mocks

import (
	"context"
	"strings"
	"sync"

	"codeloop/pkg/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize behavior.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	modelName string

	// mu protects CompleteCalls
	mu sync.Mutex
}

// NewMockLLMClient creates a mock whose default response is a fixed piece of text.
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{modelName: "mock-model"}
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "Mock response", StopReason: "end_turn"}, nil
	}
	return m
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// OnComplete sets a custom handler for Complete calls.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.CompleteFunc = fn
}

// FailCompleteWith configures Complete to return err.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	}
}

// RespondWith configures Complete to return content verbatim.
func (m *MockLLMClient) RespondWith(content string) {
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return response(content), nil
	}
}

// RespondWithCode configures Complete to answer with code the way a model does: the start
// marker, the code, and no end marker since that is the stop sequence.
func (m *MockLLMClient) RespondWithCode(code string) {
	m.RespondWith(Code(code))
}

// RespondWithSequence returns the responses in order, repeating the last one for any
// additional calls.
func (m *MockLLMClient) RespondWithSequence(contents ...string) {
	var (
		mu    sync.Mutex
		index int
	)
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if index < len(contents) {
			index++
		}
		return response(contents[index-1]), nil
	}
}

// Code formats a snippet as model output.
func Code(code string) string {
	return "■fn_start\n" + code + "\n"
}

func response(content string) llm.CompletionResponse {
	return llm.CompletionResponse{
		Content:    content,
		StopReason: "stop_sequence",
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: len(content) / 4},
	}
}

// Reset clears all recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = nil
}

// GetCompleteCallCount returns the number of times Complete was called.
func (m *MockLLMClient) GetCompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastCompleteCall returns the most recent Complete call request, or nil if none.
func (m *MockLLMClient) LastCompleteCall() *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return nil
	}
	return &m.CompleteCalls[len(m.CompleteCalls)-1]
}

// GetNthCompleteCall returns the nth Complete call (0-indexed), or nil if not enough calls.
func (m *MockLLMClient) GetNthCompleteCall(n int) *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.CompleteCalls) {
		return nil
	}
	return &m.CompleteCalls[n]
}

// AssertCompleteCalledWith reports whether any message of any call contains substr.
func (m *MockLLMClient) AssertCompleteCalledWith(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.CompleteCalls {
		if strings.Contains(call.System, substr) {
			return true
		}
		for _, msg := range call.Messages {
			if strings.Contains(msg.Content, substr) {
				return true
			}
		}
	}
	return false
}
