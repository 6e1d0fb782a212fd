package mcpclient

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema builders for constructing tool input schemas by hand. Servers send
// schemas verbatim in ToolInfo.InputSchema; these helpers exist for callers
// that register local tools alongside bridged ones and want the two to look
// alike on the wire.

// SchemaProperty is one property in an object schema.
type SchemaProperty struct {
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Enum        []any           `json:"enum,omitempty"`
	Default     any             `json:"default,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`

	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// ObjectSchema builds a top-level object schema from named properties.
func ObjectSchema(properties map[string]SchemaProperty, required ...string) json.RawMessage {
	s := SchemaProperty{Type: "object", Properties: properties, Required: required}
	raw, _ := json.Marshal(s)
	return raw
}

// StringProperty builds a string property with a description.
func StringProperty(description string) SchemaProperty {
	return SchemaProperty{Type: "string", Description: description}
}

// EnumProperty builds a string property restricted to the given values.
func EnumProperty(description string, values ...string) SchemaProperty {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return SchemaProperty{Type: "string", Description: description, Enum: enum}
}

// NumberProperty builds a number property with a description.
func NumberProperty(description string) SchemaProperty {
	return SchemaProperty{Type: "number", Description: description}
}

// IntegerProperty builds an integer property with a description.
func IntegerProperty(description string) SchemaProperty {
	return SchemaProperty{Type: "integer", Description: description}
}

// BooleanProperty builds a boolean property with a description.
func BooleanProperty(description string) SchemaProperty {
	return SchemaProperty{Type: "boolean", Description: description}
}

// ArrayProperty builds an array property whose elements follow item.
func ArrayProperty(description string, item SchemaProperty) SchemaProperty {
	return SchemaProperty{Type: "array", Description: description, Items: &item}
}

// ReflectSchema derives an object schema from a Go struct type using its
// json and jsonschema struct tags. Nested struct fields are inlined: the
// $ref indirection invopop/jsonschema emits is followed into $defs so the
// result is one self-contained schema.
func ReflectSchema[T any]() (json.RawMessage, error) {
	var zero T
	s := jsonschema.Reflect(&zero)
	root := resolveRef(s, s.Definitions)

	out := map[string]any{"type": "object"}
	if props := reflectedProperties(root, s.Definitions); props != nil {
		out["properties"] = props
	}
	if len(root.Required) > 0 {
		out["required"] = root.Required
	}
	return json.Marshal(out)
}

// resolveRef follows a "#/$defs/Name" ref to its definition. The ref names
// the def, so resolution never depends on map order.
func resolveRef(s *jsonschema.Schema, defs jsonschema.Definitions) *jsonschema.Schema {
	if s.Ref == "" || defs == nil {
		return s
	}
	if def, ok := defs[strings.TrimPrefix(s.Ref, "#/$defs/")]; ok {
		return def
	}
	return s
}

func reflectedProperties(s *jsonschema.Schema, defs jsonschema.Definitions) map[string]any {
	if s.Properties == nil {
		return nil
	}
	props := make(map[string]any)
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = reflectedProperty(pair.Value, defs)
	}
	return props
}

func reflectedProperty(s *jsonschema.Schema, defs jsonschema.Definitions) map[string]any {
	s = resolveRef(s, defs)

	m := make(map[string]any)
	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	// Pointer fields reflect as anyOf with a null branch.
	if len(s.AnyOf) > 0 {
		for _, sub := range s.AnyOf {
			if sub.Type != "null" && sub.Type != "" {
				m["type"] = sub.Type
				break
			}
		}
	}
	if s.Properties != nil {
		m["type"] = "object"
		m["properties"] = reflectedProperties(s, defs)
		if len(s.Required) > 0 {
			m["required"] = s.Required
		}
	}
	if s.Items != nil {
		m["items"] = reflectedProperty(s.Items, defs)
	}
	return m
}
