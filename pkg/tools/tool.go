package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/xeipuuv/gojsonschema"
)

// Param describes one tool parameter.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	// Schema is the full JSON schema of the parameter when it is more than a
	// plain typed value (nested objects, unions).
	Schema map[string]any `json:"schema,omitempty"`
}

// Spec is the contract a tool exposes to the model.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
}

// JSONSchema renders the spec parameters as a JSON schema object that rejects
// unknown keys.
func (s Spec) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{}
		for k, v := range p.Schema {
			prop[k] = v
		}
		if len(prop) == 0 {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// SchemaProvider is implemented by argument field types whose JSON schema
// cannot be derived from their Go type alone.
type SchemaProvider interface {
	JSONSchema() map[string]any
}

// Tool is a callable capability with a validated parameter schema.
type Tool struct {
	spec   Spec
	schema *gojsonschema.Schema
	invoke func(ctx context.Context, raw json.RawMessage) (any, error)
}

// New creates a tool from a typed handler. The parameter spec is derived from
// the fields of T:
//
//   - the json tag names the parameter; ",omitempty" makes it optional
//   - the description tag documents it
//   - the enum tag lists allowed values, comma separated
//   - the type tag overrides the derived JSON type
//   - a field type implementing SchemaProvider supplies its own schema
func New[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) (*Tool, error) {
	params, err := reflectParams(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	spec := Spec{Name: name, Description: description, Params: params}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.JSONSchema()))
	if err != nil {
		return nil, fmt.Errorf("tool %s: failed to compile schema: %w", name, err)
	}

	return &Tool{
		spec:   spec,
		schema: compiled,
		invoke: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fault.Validation("parameters", "failed to decode arguments: %v", err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// Spec returns the tool contract.
func (t *Tool) Spec() Spec { return t.spec }

// Name returns the tool name.
func (t *Tool) Name() string { return t.spec.Name }

// Validate checks raw arguments against the tool schema. The returned error
// is a *fault.Error of kind validation naming the offending field.
func (t *Tool) Validate(raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fault.Validation("parameters", "arguments are not valid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	sort.SliceStable(errs, func(i, j int) bool {
		return fieldOf(errs[i]) < fieldOf(errs[j])
	})
	first := errs[0]
	return fault.Validation(fieldOf(first), "%s", first.Description())
}

// Call validates raw and invokes the handler.
func (t *Tool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := t.Validate(raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return t.invoke(ctx, raw)
}

// fieldOf returns the dotted parameter path a schema error refers to.
func fieldOf(e gojsonschema.ResultError) string {
	path := strings.TrimPrefix(e.Context().String(), "(root)")
	path = strings.TrimPrefix(path, ".")

	switch e.Type() {
	case "required", "additional_property_not_allowed":
		if p, ok := e.Details()["property"].(string); ok && p != "" {
			if path == "" {
				path = p
			} else {
				path += "." + p
			}
		}
	}
	if path == "" {
		return "parameters"
	}
	return path
}

var schemaProviderType = reflect.TypeOf((*SchemaProvider)(nil)).Elem()

func reflectParams(t reflect.Type) ([]Param, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("arguments must be a struct, got %s", t.Kind())
	}

	params := make([]Param, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		parts := strings.Split(jsonTag, ",")
		name := parts[0]
		if name == "" {
			name = field.Name
		}
		optional := false
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				optional = true
			}
		}

		p := Param{
			Name:        name,
			Required:    !optional,
			Description: field.Tag.Get("description"),
			Type:        goTypeToJSONType(field.Type),
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			p.Enum = strings.Split(enum, ",")
		}
		if override := field.Tag.Get("type"); override != "" {
			p.Type = override
		}
		if s := providedSchema(field.Type); s != nil {
			p.Schema = s
			if typ, ok := s["type"].(string); ok {
				p.Type = typ
			}
		} else if p.Type == "array" {
			elem := field.Type
			if elem.Kind() == reflect.Ptr {
				elem = elem.Elem()
			}
			p.Schema = map[string]any{"type": "array", "items": map[string]any{"type": goTypeToJSONType(elem.Elem())}}
		}
		params = append(params, p)
	}
	return params, nil
}

func providedSchema(t reflect.Type) map[string]any {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Implements(schemaProviderType) {
		return reflect.Zero(t).Interface().(SchemaProvider).JSONSchema()
	}
	if reflect.PointerTo(t).Implements(schemaProviderType) {
		return reflect.New(t).Interface().(SchemaProvider).JSONSchema()
	}
	return nil
}

func goTypeToJSONType(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string" // Fallback
	}
}
