package template

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildTemplateJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. Template documents are validated against it before decoding so
// malformed files are rejected with a schema path instead of a zero-value
// struct surprise.
func buildTemplateJSONSchema() map[string]any {
	boxProps := map[string]any{
		"x":      map[string]any{"type": "integer", "minimum": 0},
		"y":      map[string]any{"type": "integer", "minimum": 0},
		"width":  map[string]any{"type": "integer", "minimum": 1},
		"height": map[string]any{"type": "integer", "minimum": 1},
	}
	fieldProps := map[string]any{
		"name":  map[string]any{"type": "string", "minLength": 1, "pattern": `^[a-z][a-z0-9_]*$`},
		"label": map[string]any{"type": "string", "minLength": 1},
		"type": map[string]any{
			"type": "string",
			"enum": []string{"text", "numeric", "alphanumeric", "date", "email", "phone"},
		},
		"box": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties":           boxProps,
			"required":             []string{"x", "y", "width", "height"},
		},
		"whitelist": map[string]any{"type": "string"},
		"validation": map[string]any{
			"type": "string",
			"enum": []string{"text", "numeric", "member_number", "date", "email", "phone", "national_id"},
		},
		"date_format_hint": map[string]any{"type": "string"},
		"min_length":       map[string]any{"type": "integer", "minimum": 0},
		"max_length":       map[string]any{"type": "integer", "minimum": 0},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"version":            map[string]any{"type": "string", "minLength": 1},
			"description":        map[string]any{"type": "string"},
			"page_width":         map[string]any{"type": "integer", "minimum": 1},
			"page_height":        map[string]any{"type": "integer", "minimum": 1},
			"dpi":                map[string]any{"type": "integer", "minimum": 1},
			"fallback_threshold": map[string]any{"type": "number", "minimum": 0.0, "maximum": 100.0},
			"fields": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           fieldProps,
					"required":             []string{"name", "label", "type", "box"},
				},
			},
		},
		"required": []string{"version", "page_width", "page_height", "dpi", "fields"},
	}
}

// validateTemplateJSON validates raw template bytes against the schema.
func validateTemplateJSON(data []byte) error {
	b, err := json.Marshal(buildTemplateJSONSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("template.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("template.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
