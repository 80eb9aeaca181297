package main

import (
	"fmt"

	"codeloop/pkg/config"
	"codeloop/pkg/exit"
	"codeloop/pkg/object"
	"codeloop/pkg/schema"
	"codeloop/pkg/transcript"
)

// task is the engine-facing form of config.TaskConfig.
type task struct {
	instructions string
	exits        []*exit.Exit
	objects      []*object.Instance
	transcript   transcript.Transcript
}

// defaultExits is used when the configuration declares none.
func defaultExits() []*exit.Exit {
	return []*exit.Exit{
		{
			Name:        "done",
			Aliases:     []string{"finish"},
			Description: "The task is complete. Return the result.",
			Schema: schema.MustFromMap(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"result": map[string]any{"description": "The outcome of the task"},
				},
			}),
		},
		{
			Name:        "giveup",
			Description: "The task cannot be completed. Explain why.",
			Schema: schema.MustFromMap(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string"},
				},
				"required": []any{"reason"},
			}),
		},
	}
}

func buildTask(cfg *config.Config) (*task, error) {
	t := &task{instructions: cfg.Task.Instructions}

	for i := range cfg.Task.Exits {
		ec := &cfg.Task.Exits[i]
		e := &exit.Exit{Name: ec.Name, Aliases: ec.Aliases, Description: ec.Description}
		if ec.Schema != nil {
			s, err := schema.FromMap(ec.Schema)
			if err != nil {
				return nil, fmt.Errorf("exit %s: %w", ec.Name, err)
			}
			e.Schema = s
		}
		t.exits = append(t.exits, e)
	}
	if len(t.exits) == 0 {
		t.exits = defaultExits()
	}

	for i := range cfg.Task.Objects {
		oc := &cfg.Task.Objects[i]
		inst := &object.Instance{Name: oc.Name, Description: oc.Description}
		for j := range oc.Properties {
			pc := &oc.Properties[j]
			def := &object.PropertyDef{
				Name:        pc.Name,
				Description: pc.Description,
				Value:       pc.Value,
				Writable:    pc.Writable,
			}
			if pc.Schema != nil {
				s, err := schema.FromMap(pc.Schema)
				if err != nil {
					return nil, fmt.Errorf("property %s.%s: %w", oc.Name, pc.Name, err)
				}
				def.Schema = s
			}
			inst.Properties = append(inst.Properties, def)
		}
		t.objects = append(t.objects, inst)
	}

	for _, m := range cfg.Task.Transcript {
		t.transcript = append(t.transcript, transcript.Message{Role: transcript.Role(m.Role), Content: m.Content})
	}
	return t, nil
}
