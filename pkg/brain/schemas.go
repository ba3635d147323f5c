package brain

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

func mustCompile(name string, doc map[string]any) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("brain: bad schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("brain: bad schema %s: %v", name, err))
	}
	return s
}

var planSchema = mustCompile("plan.json", map[string]any{
	"type":     "object",
	"required": []any{"goal", "tasks"},
	"properties": map[string]any{
		"goal": map[string]any{"type": "string", "minLength": 1},
		"secrets": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
		"tasks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"type", "detail"},
				"properties": map[string]any{
					"type":   map[string]any{"enum": []any{"exec", "skill", "search", "msg", "replan"}},
					"detail": map[string]any{"type": "string"},
					"skill":  map[string]any{"type": "string"},
					"args":   map[string]any{"type": "object"},
					"expect": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"extend_replan": map[string]any{"type": "integer"},
	},
})

var reviewSchema = mustCompile("review.json", map[string]any{
	"type":     "object",
	"required": []any{"status"},
	"properties": map[string]any{
		"status": map[string]any{"enum": []any{"ok", "replan"}},
		"reason": map[string]any{"type": "string"},
		"learn": map[string]any{
			"type":     "array",
			"maxItems": 5,
			"items":    map[string]any{"type": "string"},
		},
		"retry_hint": map[string]any{"type": "string"},
	},
})

var searchSchema = mustCompile("search.json", map[string]any{
	"type":     "object",
	"required": []any{"results", "summary"},
	"properties": map[string]any{
		"results": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"title", "url"},
				"properties": map[string]any{
					"title":   map[string]any{"type": "string"},
					"url":     map[string]any{"type": "string"},
					"snippet": map[string]any{"type": "string"},
				},
			},
		},
		"summary": map[string]any{"type": "string"},
		"sources": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
})

var curatorSchema = mustCompile("curator.json", map[string]any{
	"type":     "object",
	"required": []any{"evaluations"},
	"properties": map[string]any{
		"evaluations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"learning_id", "verdict", "reason"},
				"properties": map[string]any{
					"learning_id": map[string]any{"type": "integer"},
					"verdict":     map[string]any{"enum": []any{"promote", "ask", "discard"}},
					"fact": map[string]any{
						"type":     "object",
						"required": []any{"content", "category"},
						"properties": map[string]any{
							"content":    map[string]any{"type": "string"},
							"category":   map[string]any{"enum": []any{"project", "user", "tool", "general"}},
							"confidence": map[string]any{"type": "number"},
						},
					},
					"question": map[string]any{"type": "string"},
					"reason":   map[string]any{"type": "string"},
				},
			},
		},
	},
})

var factsSchema = mustCompile("facts.json", map[string]any{
	"type":     "object",
	"required": []any{"facts"},
	"properties": map[string]any{
		"facts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"content", "category"},
				"properties": map[string]any{
					"content":    map[string]any{"type": "string"},
					"category":   map[string]any{"enum": []any{"project", "user", "tool", "general"}},
					"confidence": map[string]any{"type": "number"},
				},
			},
		},
	},
})
