package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting and token-boundary truncation.
// All supported models are approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// NewTokenCounter creates a new token counter for the specified model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}

	return &TokenCounter{codec: codec}, nil
}

// DefaultTokenCounter returns a shared GPT-4 counter. It never returns nil; when the
// codec cannot be loaded the counter falls back to character estimation.
func DefaultTokenCounter() *TokenCounter {
	defaultCounterOnce.Do(func() {
		counter, err := NewTokenCounter("gpt-4")
		if err != nil {
			counter = &TokenCounter{}
		}
		defaultCounter = counter
	})
	return defaultCounter
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return estimateTokens(text)
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return estimateTokens(text)
	}
	return count
}

// Count is CountTokens under the name the truncator expects.
func (tc *TokenCounter) Count(text string) int {
	return tc.CountTokens(text)
}

// Head returns the longest prefix of text that fits in n tokens.
func (tc *TokenCounter) Head(text string, n int) string {
	if n <= 0 {
		return ""
	}
	ids, ok := tc.encode(text)
	if !ok {
		return headRunes(text, n*4)
	}
	if len(ids) <= n {
		return text
	}
	out, err := tc.codec.Decode(ids[:n])
	if err != nil {
		return headRunes(text, n*4)
	}
	return strings.ToValidUTF8(out, "")
}

// Tail returns the longest suffix of text that fits in n tokens.
func (tc *TokenCounter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	ids, ok := tc.encode(text)
	if !ok {
		return tailRunes(text, n*4)
	}
	if len(ids) <= n {
		return text
	}
	out, err := tc.codec.Decode(ids[len(ids)-n:])
	if err != nil {
		return tailRunes(text, n*4)
	}
	return strings.ToValidUTF8(out, "")
}

func (tc *TokenCounter) encode(text string) ([]uint, bool) {
	if tc.codec == nil {
		return nil, false
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil {
		return nil, false
	}
	return ids, true
}

// CountTokensSimple counts tokens with the shared default counter.
func CountTokensSimple(text string) int {
	return DefaultTokenCounter().CountTokens(text)
}

// estimateTokens is the 4-characters-per-token rule of thumb.
func estimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

func headRunes(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

func tailRunes(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[len(r)-n:])
}
