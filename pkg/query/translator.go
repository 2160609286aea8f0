package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/barekit/tabletalk/pkg/observability"
	"github.com/barekit/tabletalk/pkg/retry"
	"github.com/barekit/tabletalk/pkg/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Translator executes fetch and aggregate requests. It holds no per-request
// state and is safe for concurrent use; every call borrows a pooled
// connection from the gorm handle and returns it before the call ends.
type Translator struct {
	db           *gorm.DB
	schema       *schema.Schema
	defaultLimit int
	maxLimit     int
	policy       retry.Policy
	logger       *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithLimits overrides DefaultLimit and MaxLimit. Non-positive values are ignored.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(t *Translator) {
		if maxLimit > 0 {
			t.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			t.defaultLimit = defaultLimit
		}
	}
}

// WithRetry sets the policy applied to connection failures.
func WithRetry(p retry.Policy) Option {
	return func(t *Translator) {
		t.policy = p
	}
}

// WithLogger sets the translator logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Translator over db restricted to the tables in s.
func New(db *gorm.DB, s *schema.Schema, opts ...Option) *Translator {
	t := &Translator{
		db:           db,
		schema:       s,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		policy:       retry.Default(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.defaultLimit > t.maxLimit {
		t.defaultLimit = t.maxLimit
	}
	return t
}

// Schema returns the schema the translator validates against.
func (t *Translator) Schema() *schema.Schema { return t.schema }

// Limit clamps a requested limit to [1, max limit]. Nil selects the default.
func (t *Translator) Limit(requested *int) int {
	if requested == nil {
		return t.defaultLimit
	}
	n := *requested
	if n < 1 {
		return 1
	}
	if n > t.maxLimit {
		return t.maxLimit
	}
	return n
}

// Fetch returns the matching rows. Unknown tables, columns, operators and
// mistyped values fail with a validation error before the store is touched.
func (t *Translator) Fetch(ctx context.Context, req FetchRequest) (*Rows, error) {
	table, err := t.table(req.Table)
	if err != nil {
		return nil, err
	}
	columns, err := selectColumns(table, req.Columns)
	if err != nil {
		return nil, err
	}
	where, err := conditions(table, req.Filters)
	if err != nil {
		return nil, err
	}
	var order *clause.OrderByColumn
	if req.OrderBy != nil {
		if order, err = orderBy(table, *req.OrderBy); err != nil {
			return nil, err
		}
	}
	limit := t.Limit(req.Limit)

	t.logger.Debug("fetching rows", "table", table.Name, "columns", len(columns), "filters", len(where), "limit", limit)

	return run(ctx, t, "fetch", func(ctx context.Context) (*Rows, error) {
		selected := make([]clause.Column, len(columns))
		for i, c := range columns {
			selected[i] = clause.Column{Name: c}
		}
		tx := t.db.WithContext(ctx).Table(table.Name).Clauses(clause.Select{Columns: selected})
		if len(where) > 0 {
			tx = tx.Clauses(clause.Where{Exprs: where})
		}
		if order != nil {
			tx = tx.Order(*order)
		}

		rows, err := tx.Limit(limit).Rows()
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := &Rows{Table: table.Name, Columns: columns, Records: [][]any{}, Limit: limit}
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, err
			}
			for i, v := range values {
				if b, ok := v.([]byte); ok {
					values[i] = string(b)
				}
			}
			out.Records = append(out.Records, values)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

var aggregateFuncs = map[Operation]string{
	OpSum:   "SUM",
	OpAvg:   "AVG",
	OpMin:   "MIN",
	OpMax:   "MAX",
	OpCount: "COUNT",
}

// Aggregate computes one scalar over the matching rows. Count ignores the
// column; the other operations require a numeric one.
func (t *Translator) Aggregate(ctx context.Context, req AggregateRequest) (*Scalar, error) {
	table, err := t.table(req.Table)
	if err != nil {
		return nil, err
	}
	fn, ok := aggregateFuncs[req.Operation]
	if !ok {
		return nil, fault.Validation("operation", "unsupported operation %q", req.Operation)
	}

	expr := clause.Expr{SQL: "COUNT(*)"}
	column := ""
	if req.Operation != OpCount {
		if req.Column == "" {
			return nil, fault.Validation("column", "a column is required for %s", req.Operation)
		}
		col, ok := table.Column(req.Column)
		if !ok {
			return nil, fault.Validation("column", "unknown column %q in table %s", req.Column, table.Name)
		}
		if !col.Type.Numeric() {
			return nil, fault.Validation("column", "%s is a %s column and cannot be aggregated with %s", col.Name, col.Type, req.Operation)
		}
		column = col.Name
		expr = clause.Expr{SQL: fn + "(?)", Vars: []any{clause.Column{Name: col.Name}}}
	}

	where, err := conditions(table, req.Filters)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("aggregating", "table", table.Name, "operation", req.Operation, "column", column, "filters", len(where))

	return run(ctx, t, "aggregate", func(ctx context.Context) (*Scalar, error) {
		tx := t.db.WithContext(ctx).Table(table.Name).Clauses(clause.Select{Expression: expr})
		if len(where) > 0 {
			tx = tx.Clauses(clause.Where{Exprs: where})
		}

		var v sql.NullFloat64
		if err := tx.Row().Scan(&v); err != nil {
			return nil, err
		}
		return &Scalar{
			Table:     table.Name,
			Operation: req.Operation,
			Column:    column,
			Value:     v.Float64,
			Null:      !v.Valid,
		}, nil
	})
}

func run[T any](ctx context.Context, t *Translator, op string, fn func(context.Context) (T, error)) (T, error) {
	out, err := retry.Do(ctx, t.policy, fault.IsRetryable, func(attempt int, err error) {
		observability.ObserveRetry("store")
		t.logger.Warn("retrying store query", "op", op, "attempt", attempt, "error", err)
	}, func(ctx context.Context) (T, error) {
		start := time.Now()
		v, err := fn(ctx)
		observability.ObserveStoreQuery(op, time.Since(start))
		return v, classify(op, err)
	})
	if err != nil {
		var zero T
		return zero, classify(op, err)
	}
	return out, nil
}

func (t *Translator) table(name string) (schema.Table, error) {
	if name == "" {
		if len(t.schema.Tables) == 1 {
			return t.schema.Tables[0], nil
		}
		return schema.Table{}, fault.Validation("table", "a table is required, one of: %s", strings.Join(t.schema.TableNames(), ", "))
	}
	table, ok := t.schema.Table(name)
	if !ok {
		return schema.Table{}, fault.Validation("table", "unknown table %q", name)
	}
	return table, nil
}

func selectColumns(table schema.Table, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return table.ColumnNames(), nil
	}
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := table.Column(name); !ok {
			return nil, fault.Validation("columns", "unknown column %q in table %s", name, table.Name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func orderBy(table schema.Table, o Order) (*clause.OrderByColumn, error) {
	if _, ok := table.Column(o.Column); !ok {
		return nil, fault.Validation("order_by.column", "unknown column %q in table %s", o.Column, table.Name)
	}
	var desc bool
	switch strings.ToLower(o.Direction) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, fault.Validation("order_by.direction", "direction must be asc or desc, got %q", o.Direction)
	}
	return &clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: desc}, nil
}

func conditions(table schema.Table, filters []Filter) ([]clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(filters))
	for _, f := range filters {
		field := "filters." + f.Column
		col, ok := table.Column(f.Column)
		if !ok {
			return nil, fault.Validation(field, "unknown column %q in table %s", f.Column, table.Name)
		}
		op, ok := ParseOperator(string(f.Op))
		if !ok {
			return nil, fault.Validation(field, "unsupported operator %q", f.Op)
		}
		value, err := coerce(col, op, f.Value)
		if err != nil {
			return nil, fault.Validation(field, "%v", err)
		}

		c := clause.Column{Name: col.Name}
		switch op {
		case OpEq:
			exprs = append(exprs, clause.Eq{Column: c, Value: value})
		case OpNeq:
			exprs = append(exprs, clause.Neq{Column: c, Value: value})
		case OpGt:
			exprs = append(exprs, clause.Gt{Column: c, Value: value})
		case OpLt:
			exprs = append(exprs, clause.Lt{Column: c, Value: value})
		case OpGte:
			exprs = append(exprs, clause.Gte{Column: c, Value: value})
		case OpLte:
			exprs = append(exprs, clause.Lte{Column: c, Value: value})
		case OpLike:
			exprs = append(exprs, clause.Like{Column: c, Value: value})
		}
	}
	return exprs, nil
}

// coerce checks a filter value against the declared column type and returns
// the value to bind.
func coerce(col schema.Column, op Operator, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("null is not a valid value for %s", col.Name)
	}
	if op == OpLike && col.Type != schema.TypeString {
		return nil, fmt.Errorf("like needs a string column, %s is %s", col.Name, col.Type)
	}

	switch col.Type {
	case schema.TypeInteger:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) || math.Abs(n) >= 1<<63 {
				return nil, fmt.Errorf("%s expects an integer, got %v", col.Name, n)
			}
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case schema.TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.TypeTimestamp:
		if s, ok := v.(string); ok {
			if !validTimestamp(s) {
				return nil, fmt.Errorf("%s expects an RFC 3339 timestamp or a YYYY-MM-DD date, got %q", col.Name, s)
			}
			return s, nil
		}
	}
	return nil, fmt.Errorf("%s expects a %s value, got %T", col.Name, col.Type, v)
}

func validTimestamp(s string) bool {
	for _, layout := range []string{time.RFC3339, time.DateTime, time.DateOnly} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
