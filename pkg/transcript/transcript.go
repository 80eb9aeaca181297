// Package transcript holds the conversation shown to the model.
package transcript

import (
	"fmt"
	"strings"

	"codeloop/pkg/truncator"
)

// Role of a transcript message.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "summary"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Content string `json:"content" yaml:"content"`
}

// Transcript is the ordered conversation, oldest first.
type Transcript []Message

// Validate rejects unknown roles.
func (t Transcript) Validate() error {
	for i, m := range t {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSummary:
		default:
			return fmt.Errorf("transcript message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}

// Last returns the most recent message.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// String renders the transcript for the system prompt. Older messages are truncated first.
func (t Transcript) String() string {
	if len(t) == 0 {
		return "No messages yet."
	}

	var b strings.Builder
	for _, m := range t {
		attrs := fmt.Sprintf("role=%q", m.Role)
		if m.Name != "" {
			attrs += fmt.Sprintf(" name=%q", m.Name)
		}
		fmt.Fprintf(&b, "<message %s>\n%s\n</message>\n", attrs, strings.TrimSpace(m.Content))
	}
	return truncator.Wrap(strings.TrimRight(b.String(), "\n"), truncator.Options{
		Preserve:  truncator.PreserveBottom,
		Flex:      4,
		MinTokens: 500,
	})
}
