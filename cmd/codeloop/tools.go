package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeloop/pkg/tool"
)

var errNoInput = errors.New("no input available")

type messageInput struct {
	Text string `json:"text" jsonschema:"description=Text shown to the user"`
}

type askInput struct {
	Question string `json:"question" jsonschema:"description=Question for the user"`
}

type askOutput struct {
	Answer string `json:"answer"`
}

type clockOutput struct {
	Now  string `json:"now" jsonschema:"description=Current time in RFC 3339"`
	Zone string `json:"zone"`
}

// builtinTools returns the tools every CLI run gets. ask is only offered when a person is
// at the terminal.
func builtinTools(env environment) ([]*tool.Tool, error) {
	message, err := tool.NewTyped("message", "Show a message to the user.",
		func(_ context.Context, in messageInput) (struct{}, error) {
			fmt.Fprintf(env.stdout, "💬 %s\n", in.Text)
			return struct{}{}, nil
		})
	if err != nil {
		return nil, err
	}

	clock, err := tool.NewTyped("clock", "Get the current local time.",
		func(_ context.Context, _ struct{}) (clockOutput, error) {
			now := time.Now()
			zone, _ := now.Zone()
			return clockOutput{Now: now.Format(time.RFC3339), Zone: zone}, nil
		})
	if err != nil {
		return nil, err
	}

	tools := []*tool.Tool{message, clock}
	if !env.interactive {
		return tools, nil
	}

	reader := bufio.NewReader(env.stdin)
	ask, err := tool.NewTyped("ask", "Ask the user a question and wait for the answer.",
		func(ctx context.Context, in askInput) (askOutput, error) {
			answer, err := readLine(ctx, reader, env, "❓ "+in.Question+" ")
			if err != nil {
				return askOutput{}, err
			}
			return askOutput{Answer: answer}, nil
		})
	if err != nil {
		return nil, err
	}
	ask.Async = true
	return append(tools, ask), nil
}

// promptLine prints prompt and reads one line from stdin.
func promptLine(env environment, prompt string) (string, error) {
	return readLine(context.Background(), bufio.NewReader(env.stdin), env, prompt)
}

func readLine(ctx context.Context, r *bufio.Reader, env environment, prompt string) (string, error) {
	fmt.Fprint(env.stdout, prompt)

	type line struct {
		text string
		err  error
	}
	ch := make(chan line, 1)
	go func() {
		text, err := r.ReadString('\n')
		ch <- line{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		text := strings.TrimSpace(l.text)
		if l.err != nil && text == "" {
			return "", fmt.Errorf("%w: %w", errNoInput, l.err)
		}
		return text, nil
	}
}
