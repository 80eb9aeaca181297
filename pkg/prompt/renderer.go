package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/chat/*.tpl.md templates/worker/*.tpl.md
var templateFS embed.FS

// Template names a prompt template.
type Template string

const (
	// ChatSystemTemplate is the system prompt when the model can talk to a user.
	ChatSystemTemplate Template = "templates/chat/system.tpl.md"
	// ChatUserTemplate is the initial user message in chat mode.
	ChatUserTemplate Template = "templates/chat/user.tpl.md"
	// WorkerSystemTemplate is the system prompt for autonomous runs.
	WorkerSystemTemplate Template = "templates/worker/system.tpl.md"
	// WorkerUserTemplate is the initial user message for autonomous runs.
	WorkerUserTemplate Template = "templates/worker/user.tpl.md"
)

// Renderer renders the embedded prompt templates.
type Renderer struct {
	templates map[Template]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[Template]*template.Template)}

	for _, name := range []Template{ChatSystemTemplate, ChatUserTemplate, WorkerSystemTemplate, WorkerUserTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join": strings.Join,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name Template, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}
