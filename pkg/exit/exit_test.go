package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codeloop/pkg/schema"
)

func TestMatch(t *testing.T) {
	exits := []*Exit{
		{Name: "Done", Aliases: []string{"finish"}},
		{Name: "finish"},
		{Name: "escalate", Aliases: []string{"handoff"}},
	}
	tests := []struct {
		action string
		want   string
	}{
		{"done", "Done"},
		{"DONE", "Done"},
		{"finish", "finish"}, // names win over aliases
		{"HandOff", "escalate"},
		{"unknown", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got, ok := Match(exits, tt.action)
		if tt.want == "" {
			if ok {
				t.Errorf("Match(%q) = %q, want no match", tt.action, got.Name)
			}
			continue
		}
		if !ok || got.Name != tt.want {
			t.Errorf("Match(%q) = %v, want %q", tt.action, got, tt.want)
		}
	}
}

func TestValidActions(t *testing.T) {
	exits := []*Exit{{Name: "Done", Aliases: []string{"ok"}}, {Name: "fail"}}
	assert.Equal(t, []string{"done", "ok", "fail", "think"}, ValidActions(exits))
	assert.Equal(t, []string{"think"}, ValidActions(nil))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&Exit{Name: "done"}).Validate())
	assert.ErrorIs(t, (&Exit{Name: "Think"}).Validate(), ErrInvalidExit)
	assert.ErrorIs(t, (&Exit{Name: "done", Aliases: []string{" "}}).Validate(), ErrInvalidExit)
}

func TestTypings(t *testing.T) {
	assert.Empty(t, (&Exit{Name: "done"}).Typings())
	e := &Exit{Name: "reply", Schema: schema.MustFromMap(map[string]any{"type": "string"})}
	assert.Equal(t, "string", e.Typings())
}
