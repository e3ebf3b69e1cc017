package ops

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vinodismyname/datasavant/internal/dataset"
)

const defaultHeadRows = 5

// stageAliases maps accepted spellings to canonical stage names.
var stageAliases = map[string]string{
	"filter": "filter", "where": "filter", "query": "filter",
	"select": "select", "cols": "select",
	"sort": "sort", "order_by": "sort", "orderby": "sort", "sort_values": "sort",
	"head": "head", "limit": "head", "first": "head",
	"tail": "tail", "last": "tail",
	"group": "group", "groupby": "group", "group_by": "group",
	"count": "count", "len": "count", "size": "count",
	"sum": "sum", "total": "sum",
	"mean": "mean", "avg": "mean", "average": "mean",
	"median": "median",
	"min": "min", "max": "max",
	"std": "std", "stddev": "std",
	"nunique": "nunique", "distinct": "nunique",
	"describe": "describe", "summary": "describe",
	"value_counts": "value_counts", "counts": "value_counts", "frequency": "value_counts",
	"shape": "shape",
	"columns": "columns", "schema": "columns", "info": "columns",
}

var aggregates = map[string]dataset.AggFunc{
	"count":   dataset.AggCount,
	"sum":     dataset.AggSum,
	"mean":    dataset.AggMean,
	"median":  dataset.AggMedian,
	"min":     dataset.AggMin,
	"max":     dataset.AggMax,
	"std":     dataset.AggStd,
	"nunique": dataset.AggNUnique,
}

// Parse turns an instruction into pipeline stages. It checks syntax only;
// column and type validation happens against a dataset schema.
func Parse(instruction string) ([]dataset.Op, error) {
	src := strings.TrimSpace(instruction)
	if src == "" {
		return nil, fmt.Errorf("%w: empty instruction", ErrSyntax)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.pipeline()
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("%w: expected %s, got %s", ErrSyntax, what, t)
	}
	return t, nil
}

func (p *parser) pipeline() ([]dataset.Op, error) {
	// Tolerate a leading dataframe receiver such as "df." or "df |".
	if t := p.peek(); t.kind == tokIdent && strings.EqualFold(t.text, "df") {
		if nk := p.toks[p.pos+1].kind; nk == tokDot || nk == tokPipe {
			p.pos += 2
		}
	}
	var ops []dataset.Op
	for {
		op, err := p.stage()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		switch t := p.next(); t.kind {
		case tokEOF:
			return ops, nil
		case tokPipe, tokDot:
		default:
			return nil, fmt.Errorf("%w: expected '|' between stages, got %s", ErrSyntax, t)
		}
	}
}

func (p *parser) stage() (dataset.Op, error) {
	t, err := p.expect(tokIdent, "a stage name")
	if err != nil {
		return dataset.Op{}, err
	}
	name, ok := stageAliases[strings.ToLower(t.text)]
	if !ok {
		return dataset.Op{}, fmt.Errorf("%w: unknown stage %q", dataset.ErrUnsupported, t.text)
	}
	hasArgs := p.peek().kind == tokLParen
	if hasArgs {
		p.next()
	}

	var op dataset.Op
	switch name {
	case "filter":
		if !hasArgs {
			return op, fmt.Errorf("%w: filter needs a condition in parentheses", ErrSyntax)
		}
		op.Kind = dataset.OpFilter
		op.Predicate, err = p.predicate()
	case "select", "group", "describe", "value_counts":
		op.Kind = map[string]dataset.OpKind{
			"select": dataset.OpSelect, "group": dataset.OpGroup,
			"describe": dataset.OpDescribe, "value_counts": dataset.OpValueCounts,
		}[name]
		if hasArgs {
			op.Columns, err = p.columnList()
		}
	case "sort":
		if !hasArgs {
			return op, fmt.Errorf("%w: sort needs a column in parentheses", ErrSyntax)
		}
		op.Kind = dataset.OpSort
		op.Sort, err = p.sortKeys()
	case "head", "tail":
		op.Kind = dataset.OpHead
		if name == "tail" {
			op.Kind = dataset.OpTail
		}
		op.N = defaultHeadRows
		if hasArgs && p.peek().kind != tokRParen {
			var n token
			if n, err = p.expect(tokNumber, "a row count"); err == nil {
				op.N, err = strconv.Atoi(n.text)
				if err != nil {
					err = fmt.Errorf("%w: row count %q is not an integer", ErrSyntax, n.text)
				}
			}
		}
	case "shape", "columns":
		op.Kind = dataset.OpShape
		if name == "columns" {
			op.Kind = dataset.OpColumns
		}
	default:
		op.Kind = dataset.OpAggregate
		op.Agg = aggregates[name]
		if hasArgs {
			op.Columns, err = p.columnList()
		}
	}
	if err != nil {
		return op, err
	}
	if hasArgs {
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return op, err
		}
	}
	return op, nil
}

func (p *parser) column() (string, error) {
	t := p.next()
	switch t.kind {
	case tokIdent, tokQuotedIdent:
		return t.text, nil
	}
	return "", fmt.Errorf("%w: expected a column name, got %s", ErrSyntax, t)
}

func (p *parser) columnList() ([]string, error) {
	var cols []string
	for p.peek().kind != tokRParen {
		// Quoted strings are accepted as column names inside column lists.
		if p.peek().kind == tokString {
			cols = append(cols, p.next().text)
		} else {
			c, err := p.column()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
		}
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	return cols, nil
}

func (p *parser) sortKeys() ([]dataset.SortKey, error) {
	var keys []dataset.SortKey
	for p.peek().kind != tokRParen {
		t := p.peek()
		if t.kind == tokIdent && len(keys) > 0 && isDirection(t.text) {
			p.next()
			keys[len(keys)-1].Desc = strings.EqualFold(t.text, "desc")
		} else {
			c, err := p.column()
			if err != nil {
				return nil, err
			}
			k := dataset.SortKey{Column: c}
			if d := p.peek(); d.kind == tokIdent && isDirection(d.text) {
				p.next()
				k.Desc = strings.EqualFold(d.text, "desc")
			}
			keys = append(keys, k)
		}
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: sort needs a column", ErrSyntax)
	}
	return keys, nil
}

func isDirection(s string) bool {
	return strings.EqualFold(s, "asc") || strings.EqualFold(s, "desc")
}

// predicate parses conditions joined by and/or; and binds tighter than or.
func (p *parser) predicate() (dataset.Predicate, error) {
	var pred dataset.Predicate
	branch := []dataset.Condition{}
	for {
		c, err := p.condition()
		if err != nil {
			return pred, err
		}
		branch = append(branch, c)

		t := p.peek()
		if t.kind == tokComma {
			p.next()
			continue
		}
		if t.kind != tokIdent {
			break
		}
		switch strings.ToLower(t.text) {
		case "and":
			p.next()
		case "or":
			p.next()
			pred.Any = append(pred.Any, branch)
			branch = []dataset.Condition{}
		default:
			return pred, fmt.Errorf("%w: expected 'and' or 'or', got %s", ErrSyntax, t)
		}
	}
	pred.Any = append(pred.Any, branch)
	return pred, nil
}

func (p *parser) condition() (dataset.Condition, error) {
	col, err := p.column()
	if err != nil {
		return dataset.Condition{}, err
	}
	var cmp dataset.Comparator
	t := p.next()
	switch {
	case t.kind == tokOp:
		cmp = dataset.Comparator(t.text)
	case t.kind == tokIdent && strings.EqualFold(t.text, "contains"):
		cmp = dataset.CmpContains
	case t.kind == tokIdent && (strings.EqualFold(t.text, "startswith") || strings.EqualFold(t.text, "starts_with")):
		cmp = dataset.CmpStartsWith
	default:
		return dataset.Condition{}, fmt.Errorf("%w: expected a comparison operator after %q, got %s", ErrSyntax, col, t)
	}

	lit := p.next()
	switch lit.kind {
	case tokString, tokNumber, tokIdent:
	default:
		return dataset.Condition{}, fmt.Errorf("%w: expected a value after %s, got %s", ErrSyntax, cmp, lit)
	}
	return dataset.Condition{Column: col, Cmp: cmp, Literal: lit.text}, nil
}
