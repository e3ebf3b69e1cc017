package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors returned by Plan. Callers classify with errors.Is.
var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrUnsupported   = errors.New("unsupported operation")
)

// OpKind names a pipeline stage.
type OpKind string

const (
	OpFilter      OpKind = "filter"
	OpSelect      OpKind = "select"
	OpSort        OpKind = "sort"
	OpHead        OpKind = "head"
	OpTail        OpKind = "tail"
	OpGroup       OpKind = "group"
	OpAggregate   OpKind = "aggregate"
	OpDescribe    OpKind = "describe"
	OpValueCounts OpKind = "value_counts"
	OpShape       OpKind = "shape"
	OpColumns     OpKind = "columns"
)

// Terminal reports whether the stage ends a pipeline.
func (k OpKind) Terminal() bool {
	switch k {
	case OpAggregate, OpDescribe, OpValueCounts, OpShape, OpColumns:
		return true
	}
	return false
}

// Comparator is a filter operator.
type Comparator string

const (
	CmpEq         Comparator = "=="
	CmpNe         Comparator = "!="
	CmpLt         Comparator = "<"
	CmpLe         Comparator = "<="
	CmpGt         Comparator = ">"
	CmpGe         Comparator = ">="
	CmpContains   Comparator = "contains"
	CmpStartsWith Comparator = "startswith"
)

// AggFunc is an aggregate function name.
type AggFunc string

const (
	AggCount   AggFunc = "count"
	AggSum     AggFunc = "sum"
	AggMean    AggFunc = "mean"
	AggMedian  AggFunc = "median"
	AggMin     AggFunc = "min"
	AggMax     AggFunc = "max"
	AggStd     AggFunc = "std"
	AggNUnique AggFunc = "nunique"
)

// Condition compares a column against a literal given as source text.
type Condition struct {
	Column  string
	Cmp     Comparator
	Literal string
}

// Predicate is a disjunction of conjunctions: Any[i] holds the AND-ed terms of one branch.
type Predicate struct {
	Any [][]Condition
}

// SortKey orders rows by one column.
type SortKey struct {
	Column string
	Desc   bool
}

// Op is one stage of a query pipeline. Only the fields relevant to Kind are read.
type Op struct {
	Kind      OpKind
	Columns   []string
	Predicate Predicate
	Sort      []SortKey
	N         int
	Agg       AggFunc
}

// Table is a materialized derived frame.
type Table struct {
	Fields []Field
	Rows   [][]Value
}

// Scalar is a single aggregate result.
type Scalar struct {
	Label string
	Type  Type
	Value Value
}

// Frame is the result of a query: exactly one of Table or Scalar is set.
type Frame struct {
	Table  *Table
	Scalar *Scalar
}

// Query validates and runs ops in order. The dataset is never modified.
func (d *Dataset) Query(ctx context.Context, ops []Op) (*Frame, error) {
	p, err := d.Plan(ops)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

type compiledCond struct {
	col *Column
	cmp Comparator
	lit Value
}

type compiledOp struct {
	op      Op
	cols    []*Column
	any     [][]compiledCond
	sortBy  []*Column
	sortDir []bool
}

// Plan is a validated pipeline bound to one dataset.
type Plan struct {
	ds  *Dataset
	ops []compiledOp
}

// Plan checks every referenced column and operator against the schema without
// touching row data.
func (d *Dataset) Plan(ops []Op) (*Plan, error) {
	current := d.columns
	grouped := false
	plan := &Plan{ds: d}

	for i, op := range ops {
		if i > 0 && ops[i-1].Kind.Terminal() {
			return nil, fmt.Errorf("%w: %s cannot follow %s", ErrUnsupported, op.Kind, ops[i-1].Kind)
		}
		if grouped && op.Kind != OpAggregate {
			return nil, fmt.Errorf("%w: group must be followed by an aggregate, got %s", ErrUnsupported, op.Kind)
		}
		c := compiledOp{op: op}
		switch op.Kind {
		case OpFilter:
			if len(op.Predicate.Any) == 0 {
				return nil, fmt.Errorf("%w: filter needs a condition", ErrUnsupported)
			}
			for _, branch := range op.Predicate.Any {
				var terms []compiledCond
				for _, cond := range branch {
					cc, err := compileCond(current, cond)
					if err != nil {
						return nil, err
					}
					terms = append(terms, cc)
				}
				c.any = append(c.any, terms)
			}
		case OpSelect:
			if len(op.Columns) == 0 {
				return nil, fmt.Errorf("%w: select needs at least one column", ErrUnsupported)
			}
			cols, err := resolve(current, op.Columns)
			if err != nil {
				return nil, err
			}
			c.cols = cols
			current = cols
		case OpSort:
			if len(op.Sort) == 0 {
				return nil, fmt.Errorf("%w: sort needs a column", ErrUnsupported)
			}
			for _, k := range op.Sort {
				col, err := resolveOne(current, k.Column)
				if err != nil {
					return nil, err
				}
				c.sortBy = append(c.sortBy, col)
				c.sortDir = append(c.sortDir, k.Desc)
			}
		case OpHead, OpTail:
			if op.N < 0 {
				return nil, fmt.Errorf("%w: %s count must be >= 0", ErrUnsupported, op.Kind)
			}
		case OpGroup:
			if len(op.Columns) == 0 {
				return nil, fmt.Errorf("%w: group needs at least one column", ErrUnsupported)
			}
			if i == len(ops)-1 {
				return nil, fmt.Errorf("%w: group must be followed by an aggregate", ErrUnsupported)
			}
			cols, err := resolve(current, op.Columns)
			if err != nil {
				return nil, err
			}
			c.cols = cols
			grouped = true
		case OpAggregate:
			grouped = false
			cols, err := resolve(current, op.Columns)
			if err != nil {
				return nil, err
			}
			if len(cols) > 1 {
				return nil, fmt.Errorf("%w: %s takes one column", ErrUnsupported, op.Agg)
			}
			if len(cols) == 0 && op.Agg != AggCount {
				return nil, fmt.Errorf("%w: %s needs a column", ErrUnsupported, op.Agg)
			}
			if len(cols) == 1 {
				if err := checkAgg(op.Agg, cols[0]); err != nil {
					return nil, err
				}
			}
			c.cols = cols
		case OpDescribe:
			cols := current
			if len(op.Columns) > 0 {
				var err error
				if cols, err = resolve(current, op.Columns); err != nil {
					return nil, err
				}
			}
			c.cols = cols
		case OpValueCounts:
			if len(op.Columns) != 1 {
				return nil, fmt.Errorf("%w: value_counts takes one column", ErrUnsupported)
			}
			cols, err := resolve(current, op.Columns)
			if err != nil {
				return nil, err
			}
			c.cols = cols
		case OpShape, OpColumns:
			c.cols = current
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupported, op.Kind)
		}
		plan.ops = append(plan.ops, c)
	}
	return plan, nil
}

func checkAgg(fn AggFunc, col *Column) error {
	switch fn {
	case AggCount, AggNUnique:
		return nil
	case AggSum, AggMean, AggMedian, AggStd:
		if col.Type() != Numeric {
			return fmt.Errorf("%w: %s needs a numeric column, %q is %s", ErrTypeMismatch, fn, col.Name(), col.Type())
		}
		return nil
	case AggMin, AggMax:
		if col.Type() == Boolean {
			return fmt.Errorf("%w: %s is not defined for boolean column %q", ErrTypeMismatch, fn, col.Name())
		}
		return nil
	}
	return fmt.Errorf("%w: aggregate %q", ErrUnsupported, fn)
}

func compileCond(cols []*Column, cond Condition) (compiledCond, error) {
	col, err := resolveOne(cols, cond.Column)
	if err != nil {
		return compiledCond{}, err
	}
	t := col.Type()
	switch cond.Cmp {
	case CmpEq, CmpNe:
	case CmpLt, CmpLe, CmpGt, CmpGe:
		if t == Boolean {
			return compiledCond{}, fmt.Errorf("%w: %s is not defined for boolean column %q", ErrTypeMismatch, cond.Cmp, col.Name())
		}
	case CmpContains, CmpStartsWith:
		if t != String {
			return compiledCond{}, fmt.Errorf("%w: %s needs a string column, %q is %s", ErrTypeMismatch, cond.Cmp, col.Name(), t)
		}
	default:
		return compiledCond{}, fmt.Errorf("%w: operator %q", ErrUnsupported, cond.Cmp)
	}
	lit, ok := ParseLiteral(t, cond.Literal)
	if !ok {
		return compiledCond{}, fmt.Errorf("%w: %q is not a %s value for column %q", ErrTypeMismatch, cond.Literal, t, col.Name())
	}
	return compiledCond{col: col, cmp: cond.Cmp, lit: lit}, nil
}

func resolveOne(cols []*Column, name string) (*Column, error) {
	for _, c := range cols {
		if c.Name() == name {
			return c, nil
		}
	}
	var found *Column
	for _, c := range cols {
		if strings.EqualFold(c.Name(), name) {
			if found != nil {
				return nil, fmt.Errorf("%w %q: ambiguous", ErrUnknownColumn, name)
			}
			found = c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownColumn, name)
	}
	return found, nil
}

func resolve(cols []*Column, names []string) ([]*Column, error) {
	out := make([]*Column, 0, len(names))
	seen := make(map[*Column]bool, len(names))
	for _, n := range names {
		c, err := resolveOne(cols, n)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

const ctxCheckEvery = 4096

// Run executes the plan. Long scans return ctx.Err() once the context is done.
func (p *Plan) Run(ctx context.Context) (*Frame, error) {
	rows := make([]int, p.ds.rows)
	for i := range rows {
		rows[i] = i
	}
	cols := p.ds.columns
	var groupBy []*Column

	for _, c := range p.ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch c.op.Kind {
		case OpFilter:
			kept := make([]int, 0, len(rows))
			for n, r := range rows {
				if n%ctxCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
				}
				if c.match(r) {
					kept = append(kept, r)
				}
			}
			rows = kept
		case OpSelect:
			cols = c.cols
		case OpSort:
			rows = append([]int(nil), rows...)
			sort.SliceStable(rows, func(i, j int) bool {
				for k, col := range c.sortBy {
					a, b := col.At(rows[i]), col.At(rows[j])
					if a.Null || b.Null {
						if a.Null == b.Null {
							continue
						}
						return b.Null
					}
					cmp := compare(col.Type(), a, b)
					if cmp == 0 {
						continue
					}
					if c.sortDir[k] {
						return cmp > 0
					}
					return cmp < 0
				}
				return false
			})
		case OpHead:
			if c.op.N < len(rows) {
				rows = rows[:c.op.N]
			}
		case OpTail:
			if c.op.N < len(rows) {
				rows = rows[len(rows)-c.op.N:]
			}
		case OpGroup:
			groupBy = c.cols
		case OpAggregate:
			if groupBy != nil {
				return groupAggregate(ctx, groupBy, c, rows)
			}
			s, err := aggregate(ctx, c.op.Agg, c.cols, rows)
			if err != nil {
				return nil, err
			}
			return &Frame{Scalar: s}, nil
		case OpDescribe:
			return describe(ctx, c.cols, rows)
		case OpValueCounts:
			return valueCounts(ctx, c.cols[0], rows)
		case OpShape:
			return &Frame{Table: &Table{
				Fields: []Field{{Name: "rows", Type: Numeric}, {Name: "columns", Type: Numeric}},
				Rows:   [][]Value{{number(float64(len(rows))), number(float64(len(c.cols)))}},
			}}, nil
		case OpColumns:
			t := &Table{Fields: []Field{{Name: "column", Type: String}, {Name: "type", Type: String}}}
			for _, col := range c.cols {
				t.Rows = append(t.Rows, []Value{text(col.Name()), text(string(col.Type()))})
			}
			return &Frame{Table: t}, nil
		}
	}

	return &Frame{Table: materialize(cols, rows)}, nil
}

func (c compiledOp) match(row int) bool {
	for _, branch := range c.any {
		ok := true
		for _, t := range branch {
			if !t.match(row) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (t compiledCond) match(row int) bool {
	v := t.col.At(row)
	if v.Null {
		return false
	}
	switch t.cmp {
	case CmpContains:
		return strings.Contains(strings.ToLower(v.Raw), strings.ToLower(t.lit.Raw))
	case CmpStartsWith:
		return strings.HasPrefix(strings.ToLower(v.Raw), strings.ToLower(t.lit.Raw))
	}
	cmp := compare(t.col.Type(), v, t.lit)
	switch t.cmp {
	case CmpEq:
		return cmp == 0
	case CmpNe:
		return cmp != 0
	case CmpLt:
		return cmp < 0
	case CmpLe:
		return cmp <= 0
	case CmpGt:
		return cmp > 0
	case CmpGe:
		return cmp >= 0
	}
	return false
}

func materialize(cols []*Column, rows []int) *Table {
	t := &Table{Fields: make([]Field, len(cols)), Rows: make([][]Value, len(rows))}
	for j, c := range cols {
		t.Fields[j] = c.field
	}
	for i, r := range rows {
		rec := make([]Value, len(cols))
		for j, c := range cols {
			rec[j] = c.At(r)
		}
		t.Rows[i] = rec
	}
	return t
}

func number(f float64) Value { return Value{Num: f, Raw: FormatNumber(f)} }

func text(s string) Value { return Value{Raw: s} }

var null = Value{Null: true}
