package query

import (
	"context"
	"math"

	"github.com/barekit/tabletalk/pkg/tools"
)

// FetchArgs are the model-facing parameters of the fetch tool.
type FetchArgs struct {
	Table   string   `json:"table,omitempty" description:"Table to read. Optional when only one table exists."`
	Filters Filters  `json:"filters,omitempty" description:"Map of column to a value (equality), an {\"op\", \"value\"} object, or a list of them. Operators: = != > < >= <= like."`
	Columns []string `json:"columns,omitempty" description:"Columns to return. Defaults to every column."`
	OrderBy *OrderBy `json:"order_by,omitempty" description:"Sort by one column."`
	// Limit is decoded as a float so out-of-range values clamp instead of
	// failing to decode.
	Limit *float64 `json:"limit,omitempty" type:"integer" description:"Maximum rows to return."`
}

// OrderBy is the model-facing sort parameter.
type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction,omitempty"`
}

func (OrderBy) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"column":    map[string]any{"type": "string"},
			"direction": map[string]any{"type": "string", "enum": []string{"asc", "desc", "ASC", "DESC"}},
		},
		"required":             []string{"column"},
		"additionalProperties": false,
	}
}

// AggregateArgs are the model-facing parameters of the aggregate tool.
type AggregateArgs struct {
	Operation string  `json:"operation" enum:"sum,avg,min,max,count" description:"Aggregate function."`
	Column    string  `json:"column,omitempty" description:"Numeric column to aggregate. Ignored for count."`
	Table     string  `json:"table,omitempty" description:"Table to read. Optional when only one table exists."`
	Filters   Filters `json:"filters,omitempty" description:"Same shape as the fetch filters."`
}

// FetchRequest converts the tool arguments into a translator request.
func (a FetchArgs) FetchRequest() FetchRequest {
	req := FetchRequest{
		Table:   a.Table,
		Filters: a.Filters.List(),
		Columns: a.Columns,
	}
	if a.OrderBy != nil {
		req.OrderBy = &Order{Column: a.OrderBy.Column, Direction: a.OrderBy.Direction}
	}
	if a.Limit != nil {
		n := int(math.Max(math.Min(*a.Limit, math.MaxInt32), math.MinInt32))
		req.Limit = &n
	}
	return req
}

// AggregateRequest converts the tool arguments into a translator request.
func (a AggregateArgs) AggregateRequest() AggregateRequest {
	return AggregateRequest{
		Table:     a.Table,
		Operation: Operation(a.Operation),
		Column:    a.Column,
		Filters:   a.Filters.List(),
	}
}

// Tools returns the fetch and aggregate tools backed by t.
func Tools(t *Translator) ([]*tools.Tool, error) {
	fetch, err := tools.New("fetch", "Return rows from a table, optionally filtered, sorted and limited.",
		func(ctx context.Context, args FetchArgs) (any, error) {
			return t.Fetch(ctx, args.FetchRequest())
		})
	if err != nil {
		return nil, err
	}

	aggregate, err := tools.New("aggregate", "Compute sum, avg, min, max or count over the rows of a table that match the filters.",
		func(ctx context.Context, args AggregateArgs) (any, error) {
			return t.Aggregate(ctx, args.AggregateRequest())
		})
	if err != nil {
		return nil, err
	}

	return []*tools.Tool{fetch, aggregate}, nil
}
