// Package query turns validated tool requests into parameterized selections
// and aggregations against the relational store. Identifiers are checked
// against the declared schema and quoted by the dialect; values are always
// bound parameters.
package query

import (
	"fmt"
	"strings"
)

const (
	// DefaultLimit is used when a fetch does not ask for a limit.
	DefaultLimit = 50
	// MaxLimit is the upper bound on rows returned by a single fetch.
	MaxLimit = 200
)

// Operator is a comparison allowed in a filter.
type Operator string

const (
	OpEq   Operator = "="
	OpNeq  Operator = "!="
	OpGt   Operator = ">"
	OpLt   Operator = "<"
	OpGte  Operator = ">="
	OpLte  Operator = "<="
	OpLike Operator = "like"
)

// Operators lists every allowed operator.
var Operators = []Operator{OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte, OpLike}

// ParseOperator accepts only the enumerated operators.
func ParseOperator(s string) (Operator, bool) {
	for _, op := range Operators {
		if string(op) == s {
			return op, true
		}
	}
	return "", false
}

// Filter is one bound predicate. Filters in a request are combined with AND.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value)
}

// Order sorts a fetch by one column.
type Order struct {
	Column    string
	Direction string
}

// FetchRequest selects rows from one table.
type FetchRequest struct {
	Table   string
	Filters []Filter
	// Columns restricts the result; empty means every declared column.
	Columns []string
	OrderBy *Order
	// Limit is clamped to [1, MaxLimit]; nil means DefaultLimit.
	Limit *int
}

// Operation is an aggregate function.
type Operation string

const (
	OpSum   Operation = "sum"
	OpAvg   Operation = "avg"
	OpMin   Operation = "min"
	OpMax   Operation = "max"
	OpCount Operation = "count"
)

// AggregateRequest computes one scalar over the filtered rows.
type AggregateRequest struct {
	Table     string
	Operation Operation
	// Column is ignored for count and must be numeric otherwise.
	Column  string
	Filters []Filter
}

// Rows is the result of a fetch.
type Rows struct {
	Table   string
	Columns []string
	Records [][]any
	// Limit is the limit that was executed.
	Limit int
}

// Empty reports a zero-row result. It is not an error.
func (r *Rows) Empty() bool { return len(r.Records) == 0 }

// Maps returns the rows keyed by column name.
func (r *Rows) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Records))
	for i, rec := range r.Records {
		m := make(map[string]any, len(r.Columns))
		for j, c := range r.Columns {
			m[c] = rec[j]
		}
		out[i] = m
	}
	return out
}

// Summary renders the total row count and at most sample rows.
func (r *Rows) Summary(sample int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "table: %s\n", r.Table)
	fmt.Fprintf(&b, "rows returned: %d (limit %d)\n", len(r.Records), r.Limit)
	if r.Empty() {
		b.WriteString("no rows matched\n")
		return b.String()
	}
	if sample <= 0 || sample > len(r.Records) {
		sample = len(r.Records)
	}
	if sample < len(r.Records) {
		fmt.Fprintf(&b, "showing first %d rows\n", sample)
	}
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteString("\n")
	for _, rec := range r.Records[:sample] {
		vals := make([]string, len(rec))
		for i, v := range rec {
			vals[i] = formatValue(v)
		}
		b.WriteString(strings.Join(vals, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

// Scalar is the result of an aggregate.
type Scalar struct {
	Table     string
	Operation Operation
	Column    string
	Value     float64
	// Null is set when the aggregate had no input rows (sum, avg, min, max).
	Null bool
}

// Empty reports an aggregate over zero rows. It is not an error.
func (s *Scalar) Empty() bool { return s.Null }

// Summary renders the scalar; sample is ignored.
func (s *Scalar) Summary(int) string {
	target := s.Column
	if s.Operation == OpCount {
		target = "*"
	}
	if s.Null {
		return fmt.Sprintf("%s(%s) over %s: no rows matched\n", s.Operation, target, s.Table)
	}
	return fmt.Sprintf("%s(%s) over %s = %s\n", s.Operation, target, s.Table, formatValue(s.Value))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.4f", x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
