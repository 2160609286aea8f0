package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Condition is one operator/value pair as the model writes it.
type Condition struct {
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Conditions accepts three shapes: a bare scalar (equality), a single
// {"op", "value"} object, or a list of them.
type Conditions []Condition

func (c *Conditions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty filter")
	}
	switch data[0] {
	case '[':
		var list []Condition
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*c = list
	case '{':
		var one Condition
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*c = Conditions{one}
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*c = Conditions{{Op: string(OpEq), Value: v}}
	}
	return nil
}

// Filters maps a column name to its conditions.
type Filters map[string]Conditions

// JSONSchema describes the accepted filter shapes, including the operator
// enumeration, so bad operators are rejected before any store access.
func (Filters) JSONSchema() map[string]any {
	ops := make([]string, len(Operators))
	for i, op := range Operators {
		ops[i] = string(op)
	}
	scalar := map[string]any{"type": []string{"string", "number", "boolean"}}
	cond := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op":    map[string]any{"type": "string", "enum": ops},
			"value": scalar,
		},
		"required":             []string{"op", "value"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"additionalProperties": map[string]any{
			"anyOf": []any{
				scalar,
				cond,
				map[string]any{"type": "array", "items": cond, "minItems": 1},
			},
		},
	}
}

// List flattens the filters in column order so the generated statement is
// stable for a given request.
func (f Filters) List() []Filter {
	cols := make([]string, 0, len(f))
	for col := range f {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var out []Filter
	for _, col := range cols {
		for _, c := range f[col] {
			out = append(out, Filter{Column: col, Op: Operator(c.Op), Value: c.Value})
		}
	}
	return out
}
