package dataset

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

func aggregate(ctx context.Context, fn AggFunc, cols []*Column, rows []int) (*Scalar, error) {
	if len(cols) == 0 {
		return &Scalar{Label: "count()", Type: Numeric, Value: number(float64(len(rows)))}, nil
	}
	col := cols[0]
	label := fmt.Sprintf("%s(%s)", fn, col.Name())
	v, t, err := aggregateColumn(ctx, fn, col, rows)
	if err != nil {
		return nil, err
	}
	return &Scalar{Label: label, Type: t, Value: v}, nil
}

func aggregateColumn(ctx context.Context, fn AggFunc, col *Column, rows []int) (Value, Type, error) {
	switch fn {
	case AggCount:
		n := 0
		for _, r := range rows {
			if !col.At(r).Null {
				n++
			}
		}
		return number(float64(n)), Numeric, nil
	case AggNUnique:
		seen := map[string]struct{}{}
		for _, r := range rows {
			v := col.At(r)
			if !v.Null {
				seen[key(col.Type(), v)] = struct{}{}
			}
		}
		return number(float64(len(seen))), Numeric, nil
	case AggMin, AggMax:
		var best Value
		found := false
		for _, r := range rows {
			v := col.At(r)
			if v.Null {
				continue
			}
			if !found {
				best, found = v, true
				continue
			}
			c := compare(col.Type(), v, best)
			if (fn == AggMin && c < 0) || (fn == AggMax && c > 0) {
				best = v
			}
		}
		if !found {
			return null, col.Type(), nil
		}
		return best, col.Type(), nil
	}

	nums, err := numbers(ctx, col, rows)
	if err != nil {
		return Value{}, Numeric, err
	}
	var f float64
	switch fn {
	case AggSum:
		f = sum(nums)
		return number(f), Numeric, nil
	case AggMean:
		f = mean(nums)
	case AggMedian:
		f = quantile(nums, 0.5)
	case AggStd:
		f = stddev(nums)
	}
	if math.IsNaN(f) {
		return null, Numeric, nil
	}
	return number(f), Numeric, nil
}

// numbers collects the non-null values of a numeric column over rows, sorted ascending.
func numbers(ctx context.Context, col *Column, rows []int) ([]float64, error) {
	out := make([]float64, 0, len(rows))
	for n, r := range rows {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v := col.At(r)
		if !v.Null {
			out = append(out, v.Num)
		}
	}
	sort.Float64s(out)
	return out, nil
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return sum(xs) / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// quantile uses linear interpolation between closest ranks; xs must be sorted.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(xs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return xs[lo]
	}
	return xs[lo] + (xs[hi]-xs[lo])*(pos-float64(lo))
}

type group struct {
	keys []Value
	rows []int
}

func groupAggregate(ctx context.Context, by []*Column, c compiledOp, rows []int) (*Frame, error) {
	index := map[string]*group{}
	var groups []*group
	for n, r := range rows {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		parts := make([]string, len(by))
		for i, col := range by {
			parts[i] = key(col.Type(), col.At(r))
		}
		k := strings.Join(parts, "\x1f")
		g, ok := index[k]
		if !ok {
			g = &group{keys: make([]Value, len(by))}
			for i, col := range by {
				g.keys[i] = col.At(r)
			}
			index[k] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		for k, col := range by {
			a, b := groups[i].keys[k], groups[j].keys[k]
			if a.Null || b.Null {
				if a.Null == b.Null {
					continue
				}
				return b.Null
			}
			if cmp := compare(col.Type(), a, b); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})

	t := &Table{}
	for _, col := range by {
		t.Fields = append(t.Fields, col.field)
	}
	label := "count()"
	aggType := Numeric
	if len(c.cols) == 1 {
		label = fmt.Sprintf("%s(%s)", c.op.Agg, c.cols[0].Name())
		if c.op.Agg == AggMin || c.op.Agg == AggMax {
			aggType = c.cols[0].Type()
		}
	}
	t.Fields = append(t.Fields, Field{Name: label, Type: aggType})

	for _, g := range groups {
		var v Value
		if len(c.cols) == 0 {
			v = number(float64(len(g.rows)))
		} else {
			var err error
			if v, _, err = aggregateColumn(ctx, c.op.Agg, c.cols[0], g.rows); err != nil {
				return nil, err
			}
		}
		rec := append(append([]Value(nil), g.keys...), v)
		t.Rows = append(t.Rows, rec)
	}
	return &Frame{Table: t}, nil
}

var describeFields = []Field{
	{Name: "column", Type: String},
	{Name: "type", Type: String},
	{Name: "count", Type: Numeric},
	{Name: "nulls", Type: Numeric},
	{Name: "unique", Type: Numeric},
	{Name: "mean", Type: String},
	{Name: "std", Type: String},
	{Name: "min", Type: String},
	{Name: "median", Type: String},
	{Name: "max", Type: String},
	{Name: "top", Type: String},
}

func describe(ctx context.Context, cols []*Column, rows []int) (*Frame, error) {
	t := &Table{Fields: describeFields}
	for _, col := range cols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count, _, _ := aggregateColumn(ctx, AggCount, col, rows)
		uniq, _, _ := aggregateColumn(ctx, AggNUnique, col, rows)
		rec := []Value{
			text(col.Name()),
			text(string(col.Type())),
			count,
			number(float64(len(rows)) - count.Num),
			uniq,
			text("-"), text("-"), text("-"), text("-"), text("-"), text("-"),
		}
		if col.Type() != Boolean {
			lo, _, _ := aggregateColumn(ctx, AggMin, col, rows)
			hi, _, _ := aggregateColumn(ctx, AggMax, col, rows)
			rec[7] = text(Format(col.Type(), lo))
			rec[9] = text(Format(col.Type(), hi))
		}
		if col.Type() == Numeric {
			nums, err := numbers(ctx, col, rows)
			if err != nil {
				return nil, err
			}
			rec[5] = text(formatStat(mean(nums)))
			rec[6] = text(formatStat(stddev(nums)))
			rec[8] = text(formatStat(quantile(nums, 0.5)))
		} else {
			top, freq := mode(col, rows)
			if freq > 0 {
				rec[10] = text(fmt.Sprintf("%s (%d)", top, freq))
			}
		}
		t.Rows = append(t.Rows, rec)
	}
	return &Frame{Table: t}, nil
}

func formatStat(f float64) string {
	if math.IsNaN(f) {
		return "null"
	}
	return FormatNumber(f)
}

type bucket struct {
	value Value
	key   string
	count int
}

func countValues(col *Column, rows []int) []*bucket {
	index := map[string]*bucket{}
	var out []*bucket
	for _, r := range rows {
		v := col.At(r)
		if v.Null {
			continue
		}
		k := key(col.Type(), v)
		b, ok := index[k]
		if !ok {
			b = &bucket{value: v, key: k}
			index[k] = b
			out = append(out, b)
		}
		b.count++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return compare(col.Type(), out[i].value, out[j].value) < 0
	})
	return out
}

func mode(col *Column, rows []int) (string, int) {
	b := countValues(col, rows)
	if len(b) == 0 {
		return "", 0
	}
	return Format(col.Type(), b[0].value), b[0].count
}

func valueCounts(ctx context.Context, col *Column, rows []int) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &Table{Fields: []Field{col.field, {Name: "count", Type: Numeric}}}
	for _, b := range countValues(col, rows) {
		t.Rows = append(t.Rows, []Value{b.value, number(float64(b.count))})
	}
	return &Frame{Table: t}, nil
}
