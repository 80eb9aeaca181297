package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"codeloop/pkg/llm"
	"codeloop/pkg/schema"
	"codeloop/pkg/transcript"
	"codeloop/pkg/truncator"
)

const (
	defaultIdentity = "No specific instructions provided"
	vmHeader        = "## Important message from the VM"
	expectedOutput  = "```tsx\n" + FnStart + "\n// code here\n" + FnEnd + "\n```"

	globalToolsDivider = "\n\n// ----------------------- //\n//       Global Tools      //\n// ----------------------- //\n\n"
)

// DualMode renders prompts in chat mode when a global tool named "message" exists and in
// worker mode otherwise. The mode only changes template text.
type DualMode struct {
	renderer *Renderer
}

var _ Prompt = (*DualMode)(nil)

// NewDualMode loads the embedded templates.
func NewDualMode() (*DualMode, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	return &DualMode{renderer: r}, nil
}

// IsChatMode reports whether p enables talking to a user.
func IsChatMode(p Props) bool {
	for _, t := range p.GlobalTools {
		if strings.EqualFold(t.Name, "message") {
			return true
		}
	}
	return false
}

type exitData struct {
	Name        string
	Description string
	HasTypings  bool
	Typings     string
}

type systemData struct {
	IsMessageEnabled bool
	ToolsDTS         string
	Identity         string
	Transcript       string
	ToolNames        string
	ReadonlyVars     string
	WriteableVars    string
	VariablesExample string
	Exits            []exitData
}

// SystemMessage renders the typings of every object and global tool, the exit catalogue
// and the transcript into the system prompt.
func (d *DualMode) SystemMessage(p Props) (llm.CompletionMessage, error) {
	var (
		dts           strings.Builder
		toolNames     []string
		readonlyVars  []string
		writeableVars []string
	)

	for _, obj := range p.Objects {
		dts.WriteString(obj.Typings() + "\n\n\n")
		for _, t := range obj.Tools {
			toolNames = append(toolNames, obj.Name+"."+t.Name)
		}
		for _, prop := range obj.Properties {
			if prop.Writable {
				writeableVars = append(writeableVars, obj.Name+"."+prop.Name)
			} else {
				readonlyVars = append(readonlyVars, obj.Name+"."+prop.Name)
			}
		}
	}

	if len(p.Objects) > 0 && len(p.GlobalTools) > 0 {
		dts.WriteString(globalToolsDivider)
	}
	for _, t := range p.GlobalTools {
		dts.WriteString(t.Typings() + "\n")
		toolNames = append(toolNames, t.Name)
	}

	exits := make([]exitData, 0, len(p.Exits))
	for _, e := range p.Exits {
		exits = append(exits, exitData{
			Name:        e.Name,
			Description: e.Description,
			HasTypings:  e.Schema != nil,
			Typings:     e.Typings(),
		})
	}

	var example string
	if len(writeableVars) > 0 {
		example += "// Example of writing to a variable:\n" +
			writeableVars[0] + " = ... // assigning a value to a Writable variable is valid"
	}
	if len(readonlyVars) > 0 {
		if example != "" {
			example += "\n\n"
		}
		example += "// Example of reading a variable:\nconst value = " + readonlyVars[0] +
			" // reading a Readonly variable is valid\n" +
			"// on the other hand, writing to a Readonly variable is not allowed and will result in an error"
	}
	if example != "" {
		example = "\n\n```tsx\n" + example + "\n```"
	}

	identity := p.Instructions
	if identity == "" {
		identity = defaultIdentity
	}

	chat := IsChatMode(p)
	name := WorkerSystemTemplate
	if chat {
		name = ChatSystemTemplate
	}
	content, err := d.renderer.Render(name, systemData{
		IsMessageEnabled: chat,
		ToolsDTS:         dts.String(),
		Identity:         identity,
		Transcript:       p.Transcript.String(),
		ToolNames:        strings.Join(toolNames, ", "),
		ReadonlyVars:     strings.Join(readonlyVars, ", "),
		WriteableVars:    strings.Join(writeableVars, ", "),
		VariablesExample: example,
		Exits:            exits,
	})
	if err != nil {
		return llm.CompletionMessage{}, err
	}
	return llm.NewSystemMessage(strings.TrimSpace(content)), nil
}

// InitialUserMessage recaps the last transcript message.
func (d *DualMode) InitialUserMessage(p Props) (llm.CompletionMessage, error) {
	chat := IsChatMode(p)
	recap := "Nobody has spoken yet in this conversation."
	if chat {
		recap += " You can start by saying something."
	}

	if last, ok := p.Transcript.Last(); ok {
		switch last.Role {
		case transcript.RoleUser:
			recap = "The user spoke last. Here's what they said:\n■im_start\n" + strings.TrimSpace(last.Content) + "\n■im_end"
		case transcript.RoleAssistant:
			recap = "You are the one who spoke last. Here's what you said last:\n■im_start\n" + strings.TrimSpace(last.Content) + "\n■im_end"
		}
	}

	name := WorkerUserTemplate
	if chat {
		name = ChatUserTemplate
	}
	content, err := d.renderer.Render(name, struct{ Recap string }{recap})
	if err != nil {
		return llm.CompletionMessage{}, err
	}
	return llm.NewUserMessage(strings.TrimSpace(content)), nil
}

func vmMessage(body string) llm.CompletionMessage {
	msg := llm.NewUserMessage(strings.TrimSpace(vmHeader + "\n\n" + body))
	msg.Name = VMName
	return msg
}

// InvalidCodeMessage shows the code that failed to compile and the compiler error.
func (d *DualMode) InvalidCodeMessage(p InvalidCodeProps) llm.CompletionMessage {
	return vmMessage("The code you provided is invalid. Here's the error:\n\n" +
		"Code:\n\n```tsx\n" + FnStart + "\n" + truncator.Wrap(p.Code) + "\n" + FnEnd + "\n```\n\n" +
		"Error:\n```\n" + truncator.Wrap(p.Message, truncator.Options{Flex: 4}) + "\n```\n\n" +
		"Please fix the error and try again.\n\nExpected output:\n\n" + expectedOutput)
}

// CodeExecutionErrorMessage shows a runtime error and its stack trace.
func (d *DualMode) CodeExecutionErrorMessage(p CodeExecutionErrorProps) llm.CompletionMessage {
	return vmMessage("An error occurred while executing the code.\n\n" +
		truncator.Wrap(p.Message, truncator.Options{Preserve: truncator.PreserveTop, Flex: 4}) + "\n\n" +
		"Stack Trace:\n```\n" + truncator.Wrap(p.Stack, truncator.Options{Preserve: truncator.PreserveTop, Flex: 6}) + "\n```\n\n" +
		"Let the user know that an error occurred, and if possible, try something else. Do not repeat yourself in the message.\n\n" +
		"Expected output:\n\n" + expectedOutput)
}

// ThinkingMessage renders the variables the model asked to look at.
func (d *DualMode) ThinkingMessage(p ThinkingProps) llm.CompletionMessage {
	reason := p.Reason
	if reason == "" {
		reason = "Thinking requested"
	}
	return vmMessage("The assistant requested to think. Here's the context:\n-------------------\n" +
		"Reason: " + reason + "\nContext:\n" +
		truncator.Wrap(thinkingContext(p.Variables), truncator.Options{Preserve: truncator.PreserveTop}) +
		"\n-------------------\n\nPlease continue with the conversation (" + FnStart + ").")
}

func thinkingContext(vars any) string {
	if s, ok := vars.(string); ok {
		return s
	}

	normalized, err := schema.Normalize(vars)
	if err != nil {
		normalized = vars
	}

	switch v := normalized.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if inspected := Inspect(v[k], k); inspected != "" {
				parts = append(parts, inspected)
			} else {
				parts = append(parts, "Value of "+k+" is "+truncator.Wrap(indentJSON(v[k])))
			}
		}
		return strings.Join(parts, "\n\n")
	case []any:
		parts := make([]string, 0, len(v))
		for i, item := range v {
			if inspected := Inspect(item, fmt.Sprintf("Index %d", i)); inspected != "" {
				parts = append(parts, inspected)
			} else {
				parts = append(parts, fmt.Sprintf("Value at index %d is %s", i, truncator.Wrap(indentJSON(item))))
			}
		}
		return strings.Join(parts, "\n\n")
	default:
		if inspected := Inspect(vars, ""); inspected != "" {
			return inspected
		}
		return indentJSON(vars)
	}
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// executedCode drops the last line of the stack, which is the suspended call itself.
func executedCode(stack string) string {
	lines := strings.Split(stack, "\n")
	return strings.Join(lines[:len(lines)-1], "\n")
}

// SnapshotResolvedMessage tells the model an asynchronous call completed and which
// variables it can rely on. The returned map is InjectedVariables plus every variable
// restored in full.
func (d *DualMode) SnapshotResolvedMessage(p SnapshotResolvedProps) (llm.CompletionMessage, map[string]any) {
	injected := make(map[string]any, len(p.InjectedVariables))
	for k, v := range p.InjectedVariables {
		injected[k] = v
	}

	snap := p.Result.Snapshot
	var vars strings.Builder
	for _, v := range snap.Variables {
		if !v.Truncated {
			injected[v.Name] = v.Value
			fmt.Fprintf(&vars, "\n// Variable %q restored with its full value:\n// %s\ndeclare const %s: %s\n",
				v.Name, truncator.Wrap(commentLines(Inspect(v.Value, ""), "\n// ")), v.Name, v.Type)
			continue
		}
		fmt.Fprintf(&vars, "\n// The variable %q was too large to be restored with its full value, here's a preview of its last known value:\n"+
			"// %s\n// Important: To restore the full value, please re-run the code that generated this variable in the first place.\n"+
			"let %s: undefined | %s = undefined;\n",
			v.Name, truncator.Wrap(commentLines(v.Preview, "\n// ")), v.Name, v.Type)
	}

	names := make([]string, 0, len(injected))
	for k := range injected {
		names = append(names, k)
	}
	sort.Strings(names)

	output := truncator.Wrap(commentLines(Inspect(p.Result.Value, ""), "\n * "),
		truncator.Options{Preserve: truncator.PreserveTop, Flex: 4})

	msg := vmMessage("The execution of an asynchronous code block has been completed. Here's the code that was executed:\n" +
		executedCode(snap.Stack) + "\n// " + p.Result.Description + "\n" +
		"```tsx\n/**\n * Here's the output:\n * " + output + "\n * */\n```\n\n" +
		"Continue the conversation from here, without repeating the above code, as it has already been executed. Here's the variables you can rely on:\n\n" +
		"```tsx\n" + truncator.Wrap(vars.String()) + "\n```\n\n" +
		"You can now assume that the code you are about to generate can rely on the variables \"" + strings.Join(names, "\", \"") + "\" being available.\n" +
		"There are NO OTHER VARIABLES than the ones listed above.\n\n" +
		"IMPORTANT: Do NOT re-run the code that was already executed. This would be a critical error. Instead, continue the conversation from here.\n\n" +
		"Expected output:\n\n" + expectedOutput)
	return msg, injected
}

// SnapshotRejectedMessage tells the model an asynchronous call failed.
func (d *DualMode) SnapshotRejectedMessage(p SnapshotRejectedProps) llm.CompletionMessage {
	errMsg := Inspect(p.Result.Value, "")
	if errMsg == "" {
		errMsg = "Unknown Error"
	}
	output := truncator.Wrap(commentLines(errMsg, "\n * "),
		truncator.Options{Preserve: truncator.PreserveBoth, MinTokens: 100})

	return vmMessage("An error occurred while executing the code. Here is the code that was executed so far:\n\n" +
		executedCode(p.Result.Snapshot.Stack) + "\n\n" +
		p.Result.Description + "\nHere's the error:\n" + output + "\n\n" +
		"Continue the conversation from here, without repeating the above code, as it has already been executed.\n" +
		"IMPORTANT: Do NOT re-run the code that was already executed. This would be a critical error. Instead, continue the conversation from here.\n\n" +
		"Expected output:\n" + expectedOutput)
}

func commentLines(s, sep string) string {
	return strings.Join(strings.Split(s, "\n"), sep)
}

// StopTokens returns the sequences that end generation.
func (d *DualMode) StopTokens() []string {
	return []string{FnEnd}
}

// ParseAssistantResponse extracts the code between the start and end markers. The end
// marker is usually missing because it is a stop sequence; a missing start marker means the
// whole output is code. Markdown fences around the code are removed.
func (d *DualMode) ParseAssistantResponse(text string) AssistantResponse {
	code := text
	if i := strings.Index(code, FnStart); i >= 0 {
		code = code[i+len(FnStart):]
	}
	if i := strings.Index(code, FnEnd); i >= 0 {
		code = code[:i]
	}
	return AssistantResponse{Raw: text, Code: stripFences(strings.TrimSpace(code))}
}

func stripFences(code string) string {
	if strings.HasPrefix(code, "```") {
		if nl := strings.Index(code, "\n"); nl >= 0 {
			code = code[nl+1:]
		} else {
			code = ""
		}
	}
	code = strings.TrimSuffix(strings.TrimRight(code, " \t\n"), "```")
	return strings.TrimSpace(code)
}
