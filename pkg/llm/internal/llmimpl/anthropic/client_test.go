package anthropic

import (
	"strings"
	"testing"

	"codeloop/pkg/llm"
)

func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		system       string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       []llm.CompletionMessage{},
			errContains: "message list cannot be empty",
		},
		{
			name:   "request system and message system joined",
			system: "You run code",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "Be concise"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You run code\n\nBe concise",
			expectMsgLen: 1,
		},
		{
			name: "iteration transcript keeps alternation",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Task"},
				{Role: llm.RoleAssistant, Content: "■fn_start\nreturn 1\n■fn_end"},
				{Role: llm.RoleUser, Content: "## Important message from the VM"},
			},
			expectMsgLen: 3,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleUser, Content: "Anyone there?"},
			},
			expectMsgLen: 1,
		},
		{
			name: "ends with assistant",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			errContains: "last message must be user",
		},
		{
			name: "starts with assistant",
			input: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			errContains: "first message must be user",
		},
		{
			name:        "only system",
			input:       []llm.CompletionMessage{{Role: llm.RoleSystem, Content: "x"}},
			errContains: "at least one non-system message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := ensureAlternation(tt.system, tt.input)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if system != tt.expectSystem {
				t.Errorf("system = %q, want %q", system, tt.expectSystem)
			}
			if len(msgs) != tt.expectMsgLen {
				t.Errorf("len(msgs) = %d, want %d", len(msgs), tt.expectMsgLen)
			}
		})
	}
}

func TestMergedUserContent(t *testing.T) {
	_, msgs, err := ensureAlternation("", []llm.CompletionMessage{
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleUser, Content: "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Content != "a\n\nb" {
		t.Errorf("merged content = %q", msgs[0].Content)
	}
}
