package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloop/pkg/exit"
	"codeloop/pkg/llm"
	"codeloop/pkg/object"
	"codeloop/pkg/schema"
	"codeloop/pkg/snapshot"
	"codeloop/pkg/tool"
	"codeloop/pkg/transcript"
	"codeloop/pkg/truncator"
)

func newPrompt(t *testing.T) *DualMode {
	t.Helper()
	p, err := NewDualMode()
	require.NoError(t, err)
	return p
}

func noop(context.Context, any) (any, error) { return nil, nil }

func content(m llm.CompletionMessage) string {
	return truncator.Strip(m.Content)
}

func TestChatModeSelection(t *testing.T) {
	tests := []struct {
		name  string
		tools []*tool.Tool
		want  bool
	}{
		{"no tools", nil, false},
		{"message tool", []*tool.Tool{{Name: "Message", Execute: noop}}, true},
		{"other tools", []*tool.Tool{{Name: "messages", Execute: noop}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsChatMode(Props{GlobalTools: tt.tools}); got != tt.want {
				t.Errorf("IsChatMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSystemMessage(t *testing.T) {
	p := newPrompt(t)
	props := Props{
		Objects: []*object.Instance{{
			Name: "order",
			Properties: []*object.PropertyDef{
				{Name: "id", Value: "o-1"},
				{Name: "status", Value: "open", Writable: true},
			},
			Tools: []*tool.Tool{{Name: "refund", Execute: noop}},
		}},
		GlobalTools: []*tool.Tool{{Name: "search", Execute: noop}},
		Exits: []*exit.Exit{
			{Name: "done", Description: "Task complete"},
			{Name: "answer", Description: "Reply", Schema: schema.MustFromMap(map[string]any{"type": "string"})},
		},
	}

	msg, err := p.SystemMessage(props)
	require.NoError(t, err)
	assert.Equal(t, llm.RoleSystem, msg.Role)

	got := content(msg)
	assert.Contains(t, got, defaultIdentity)
	assert.Contains(t, got, "declare namespace order {")
	assert.Contains(t, got, "//       Global Tools      //")
	assert.Contains(t, got, "declare function search(): void;")
	assert.Contains(t, got, "Available tools: order.refund, search.")
	assert.Contains(t, got, "Readonly variables: order.id.")
	assert.Contains(t, got, "Writable variables: order.status.")
	assert.Contains(t, got, "order.status = ... // assigning a value to a Writable variable is valid")
	assert.Contains(t, got, "const value = order.id // reading a Readonly variable is valid")
	assert.Contains(t, got, "## done\nTask complete")
	assert.Contains(t, got, "## answer\nReply\n\n```typescript\ntype Value = string\n```")
	assert.Contains(t, got, "autonomous worker")
	assert.Equal(t, strings.TrimSpace(got), got)
}

func TestSystemMessageWithoutObjectsHasNoDivider(t *testing.T) {
	p := newPrompt(t)
	msg, err := p.SystemMessage(Props{
		Instructions: "Be helpful",
		GlobalTools:  []*tool.Tool{{Name: "message", Execute: noop}},
	})
	require.NoError(t, err)
	got := content(msg)
	assert.NotContains(t, got, "Global Tools")
	assert.NotContains(t, got, "Example of")
	assert.Contains(t, got, "Be helpful")
	assert.Contains(t, got, "conversational assistant")
}

func TestInitialUserMessage(t *testing.T) {
	chatTools := []*tool.Tool{{Name: "message", Execute: noop}}
	tests := []struct {
		name  string
		props Props
		want  string
	}{
		{"worker, empty", Props{}, "Nobody has spoken yet in this conversation.\n"},
		{"chat, empty", Props{GlobalTools: chatTools}, "Nobody has spoken yet in this conversation. You can start by saying something."},
		{
			"user last",
			Props{Transcript: transcript.Transcript{{Role: transcript.RoleAssistant, Content: "hi"}, {Role: transcript.RoleUser, Content: " refund me \n"}}},
			"The user spoke last. Here's what they said:\n■im_start\nrefund me\n■im_end",
		},
		{
			"assistant last",
			Props{Transcript: transcript.Transcript{{Role: transcript.RoleAssistant, Content: "done!"}}},
			"You are the one who spoke last. Here's what you said last:\n■im_start\ndone!\n■im_end",
		},
	}
	p := newPrompt(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := p.InitialUserMessage(tt.props)
			require.NoError(t, err)
			assert.Equal(t, llm.RoleUser, msg.Role)
			assert.Contains(t, msg.Content, tt.want)
		})
	}
}

func TestVMMessages(t *testing.T) {
	p := newPrompt(t)

	invalid := p.InvalidCodeMessage(InvalidCodeProps{Code: "return {", Message: "Unexpected end of input"})
	assert.Equal(t, VMName, invalid.Name)
	assert.Equal(t, "## Important message from the VM\n\nThe code you provided is invalid. Here's the error:\n\n"+
		"Code:\n\n```tsx\n■fn_start\nreturn {\n■fn_end\n```\n\nError:\n```\nUnexpected end of input\n```\n\n"+
		"Please fix the error and try again.\n\nExpected output:\n\n```tsx\n■fn_start\n// code here\n■fn_end\n```", content(invalid))

	execErr := content(p.CodeExecutionErrorMessage(CodeExecutionErrorProps{Message: "boom", Stack: "at line 1"}))
	assert.True(t, strings.HasPrefix(execErr, "## Important message from the VM\n\nAn error occurred while executing the code.\n\nboom\n\nStack Trace:\n```\nat line 1\n```"))
	assert.Contains(t, execErr, "Do not repeat yourself in the message.")
}

func TestThinkingMessage(t *testing.T) {
	p := newPrompt(t)
	tests := []struct {
		name string
		in   ThinkingProps
		want []string
	}{
		{"default reason", ThinkingProps{}, []string{"Reason: Thinking requested\n"}},
		{"string", ThinkingProps{Reason: "check", Variables: "raw notes"}, []string{"Reason: check\nContext:\nraw notes\n---"}},
		{"map", ThinkingProps{Variables: map[string]any{"b": []int{1}, "a": "x", "n": nil}}, []string{
			"// a: string\nx\n\n// b: any[]\n[\n  1\n]\n\nValue of n is null",
		}},
		{"slice", ThinkingProps{Variables: []any{"first", 2}}, []string{"// Index 0: string\nfirst\n\n// Index 1: number\n2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := content(p.ThinkingMessage(tt.in))
			assert.True(t, strings.HasSuffix(got, "Please continue with the conversation (■fn_start)."))
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestSnapshotResolvedMessage(t *testing.T) {
	p := newPrompt(t)
	snap := &snapshot.Snapshot{
		Stack: "const orders = await listOrders()\nconst detail = await fetchDetail(orders[0])",
		Variables: []snapshot.Variable{
			snapshot.NewVariable("orders", []any{"o-1"}),
			{Name: "blob", Type: "string", Preview: "aaaa", Truncated: true},
		},
	}
	msg, vars := p.SnapshotResolvedMessage(SnapshotResolvedProps{
		Result:            snapshot.Result{Snapshot: snap, Description: "fetchDetail resolved", Value: map[string]any{"id": "o-1"}},
		InjectedVariables: map[string]any{"ctx": 1},
	})

	got := content(msg)
	assert.Contains(t, got, "Here's the code that was executed:\nconst orders = await listOrders()\n// fetchDetail resolved\n")
	assert.NotContains(t, got, "fetchDetail(orders[0])")
	assert.Contains(t, got, "// Variable \"orders\" restored with its full value:\n// [\n//   \"o-1\"\n// ]\ndeclare const orders: any[]")
	assert.Contains(t, got, "let blob: undefined | string = undefined;")
	assert.Contains(t, got, "rely on the variables \"ctx\", \"orders\" being available.")
	assert.Contains(t, got, "There are NO OTHER VARIABLES than the ones listed above.")
	assert.Contains(t, got, " * Here's the output:\n * {\n *   \"id\": \"o-1\"\n * }")
	assert.Equal(t, map[string]any{"ctx": 1, "orders": []any{"o-1"}}, vars)
}

func TestSnapshotRejectedMessage(t *testing.T) {
	p := newPrompt(t)
	got := content(p.SnapshotRejectedMessage(SnapshotRejectedProps{Result: snapshot.Result{
		Snapshot:    &snapshot.Snapshot{Stack: "const a = 1\nawait pay()"},
		Description: "pay rejected",
		Value:       errors.New("card declined"),
	}}))
	assert.Contains(t, got, "Here is the code that was executed so far:\n\nconst a = 1\n\npay rejected\nHere's the error:\nError: card declined\n")
	assert.Contains(t, got, "IMPORTANT: Do NOT re-run the code that was already executed.")

	unknown := content(p.SnapshotRejectedMessage(SnapshotRejectedProps{Result: snapshot.Result{Snapshot: &snapshot.Snapshot{}}}))
	assert.Contains(t, unknown, "Here's the error:\nUnknown Error")
}

func TestParseAssistantResponse(t *testing.T) {
	p := newPrompt(t)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"markers", "thinking...\n■fn_start\nreturn { action: 'done' }\n■fn_end\ntrailing", "return { action: 'done' }"},
		{"stopped before end marker", "■fn_start\nconst a = 1\nreturn a", "const a = 1\nreturn a"},
		{"no markers", "  return 1  ", "return 1"},
		{"fenced", "■fn_start\n```tsx\nreturn 1\n```\n", "return 1"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ParseAssistantResponse(tt.in)
			if got.Code != tt.want {
				t.Errorf("Code = %q, want %q", got.Code, tt.want)
			}
			assert.Equal(t, tt.in, got.Raw)
		})
	}
	assert.Equal(t, []string{"■fn_end"}, p.StopTokens())
}

func TestInspect(t *testing.T) {
	assert.Empty(t, Inspect(nil, "x"))
	assert.Empty(t, Inspect(func() {}, "x"))
	assert.Equal(t, "hello", Inspect("hello", ""))
	assert.Equal(t, "// n: number\n3", Inspect(3, "n"))
	assert.Equal(t, "Error: nope", Inspect(errors.New("nope"), ""))

	long := make([]int, maxInspectItems+5)
	got := Inspect(long, "")
	assert.True(t, strings.HasSuffix(got, "  // ... and 5 more items\n]"))
}
