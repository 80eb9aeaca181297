package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4", "gpt-4o-mini", "claude-sonnet-4-5", "unknown-model"} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			if err != nil {
				t.Fatalf("NewTokenCounter(%s) failed: %v", model, err)
			}
			if counter == nil {
				t.Fatalf("NewTokenCounter(%s) returned nil counter", model)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	counter := DefaultTokenCounter()

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{"This is a longer sentence with more words.", 8, 12},
		{strings.Repeat("word ", 100), 90, 110},
	}

	for _, tt := range tests {
		t.Run(tt.text[:minInt(len(tt.text), 20)], func(t *testing.T) {
			tokens := counter.CountTokens(tt.text)
			if tokens < tt.minTokens || tokens > tt.maxTokens {
				t.Errorf("CountTokens(%q) = %d, want between %d and %d",
					tt.text, tokens, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestHeadAndTail(t *testing.T) {
	counter := DefaultTokenCounter()
	text := strings.Repeat("alpha beta gamma delta ", 40)

	head := counter.Head(text, 10)
	if !strings.HasPrefix(text, head) {
		t.Errorf("Head result is not a prefix: %q", head)
	}
	if got := counter.CountTokens(head); got > 12 {
		t.Errorf("Head(10) produced %d tokens", got)
	}

	tail := counter.Tail(text, 10)
	if !strings.HasSuffix(text, tail) {
		t.Errorf("Tail result is not a suffix: %q", tail)
	}
	if got := counter.CountTokens(tail); got > 12 {
		t.Errorf("Tail(10) produced %d tokens", got)
	}

	if counter.Head(text, 0) != "" || counter.Tail(text, -1) != "" {
		t.Error("non-positive budgets should yield empty strings")
	}
	if counter.Head("short", 100) != "short" {
		t.Error("text under budget should be returned unchanged")
	}
}

func TestEstimateFallback(t *testing.T) {
	counter := &TokenCounter{}
	if got := counter.CountTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2 estimated tokens, got %d", got)
	}
	if got := counter.Head("abcdefghij", 2); got != "abcdefgh" {
		t.Errorf("unexpected fallback head %q", got)
	}
	if got := counter.Tail("abcdefghij", 1); got != "ghij" {
		t.Errorf("unexpected fallback tail %q", got)
	}
}

func TestCountTokensSimple(t *testing.T) {
	tokens := CountTokensSimple("Hello world")
	if tokens < 2 || tokens > 3 {
		t.Errorf("CountTokensSimple(\"Hello world\") = %d, want between 2 and 3", tokens)
	}
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"foo", true},
		{"_private", true},
		{"$el", true},
		{"camelCase2", true},
		{"ünïcode", true},
		{"", false},
		{"2fast", false},
		{"with-dash", false},
		{"has space", false},
		{"return", false},
		{"await", false},
		{"undefined", false},
	}
	for _, tt := range tests {
		if got := IsValidIdentifier(tt.name); got != tt.valid {
			t.Errorf("IsValidIdentifier(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestStripInvalidIdentifiers(t *testing.T) {
	out := StripInvalidIdentifiers(map[string]any{"ok": 1, "not ok": 2, "class": 3, "_x": 4})
	if len(out) != 2 || out["ok"] != 1 || out["_x"] != 4 {
		t.Errorf("unexpected result %v", out)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
