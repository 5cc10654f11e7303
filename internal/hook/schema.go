package hook

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Argument schemas for the guarded CMS item tools. Validation runs before
// record-id extraction so that a shape the extractor does not understand is
// rejected as malformed instead of silently contributing no ids.
var toolSchemas = map[string]map[string]any{
	"mcp__directus__items_read": {
		"type":                 "object",
		"required":             []any{"collection"},
		"additionalProperties": true,
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "minLength": 1},
			"action":     map[string]any{"type": "string"},
			"key":        map[string]any{"type": []any{"string", "number"}},
			"keys": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": []any{"string", "number"}},
			},
		},
	},
	"mcp__directus__items_create": {
		"type":                 "object",
		"required":             []any{"collection", "data"},
		"additionalProperties": true,
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "minLength": 1},
			"data":       map[string]any{"type": []any{"object", "array"}},
		},
	},
	"mcp__directus__items_update": {
		"type":                 "object",
		"required":             []any{"collection"},
		"additionalProperties": true,
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "minLength": 1},
			"key":        map[string]any{"type": []any{"string", "number"}},
			"keys": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": []any{"string", "number"}},
			},
			"data": map[string]any{"type": []any{"object", "array"}},
		},
	},
	"mcp__directus__items_delete": {
		"type":                 "object",
		"required":             []any{"collection"},
		"additionalProperties": true,
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "minLength": 1},
			"key":        map[string]any{"type": []any{"string", "number"}},
			"keys": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": []any{"string", "number"}},
			},
		},
	},
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(toolSchemas))
	for name, schema := range toolSchemas {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", schema); err != nil {
			panic(fmt.Sprintf("hook: add schema for %s: %v", name, err))
		}
		sch, err := c.Compile("schema.json")
		if err != nil {
			panic(fmt.Sprintf("hook: compile schema for %s: %v", name, err))
		}
		out[name] = sch
	}
	return out
}

// validateToolInput checks the arguments of a guarded tool against its
// schema. Tools without a registered schema pass; guarding still applies to
// any record ids the extractor finds.
func validateToolInput(toolName string, input map[string]any) error {
	sch, ok := compiledSchemas[toolName]
	if !ok {
		return nil
	}
	if err := sch.Validate(input); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
