package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ObjectSchema is an object with the given properties, of which required
// must be present.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func property(kind, description string) map[string]any {
	p := map[string]any{"type": kind}
	if description != "" {
		p["description"] = description
	}
	return p
}

func StringProperty(description string) map[string]any {
	return property("string", description)
}

// StringEnumProperty is a string restricted to values.
func StringEnumProperty(description string, values ...string) map[string]any {
	p := property("string", description)
	p["enum"] = values
	return p
}

func NumberProperty(description string) map[string]any {
	return property("number", description)
}

func IntegerProperty(description string) map[string]any {
	return property("integer", description)
}

func BooleanProperty(description string) map[string]any {
	return property("boolean", description)
}

// ArrayProperty is a list whose elements match items.
func ArrayProperty(description string, items map[string]any) map[string]any {
	p := property("array", description)
	p["items"] = items
	return p
}

// WithDefault returns a copy of property with a default value.
func WithDefault(property map[string]any, value any) map[string]any {
	out := make(map[string]any, len(property)+1)
	for k, v := range property {
		out[k] = v
	}
	out["default"] = value
	return out
}

// compileSchema compiles a tool input schema. The schema is round-tripped
// through JSON because the compiler only accepts decoded JSON values.
func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		schema = ObjectSchema(map[string]any{})
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// validateInput checks raw tool arguments against schema. Empty input is
// treated as an empty object.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	payload, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(payload)
}
