// Package dataset holds an immutable, in-memory columnar table loaded from a
// delimited text file or an Excel workbook, and the single Query entry point
// used by the operation executor to compute derived frames from it.
package dataset

import (
	"fmt"
	"strings"
)

// Field describes one column of the schema.
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Column is a named, typed sequence of values. Values are never modified after load.
type Column struct {
	field  Field
	values []Value
}

// Name returns the column name.
func (c *Column) Name() string { return c.field.Name }

// Type returns the inferred column type.
func (c *Column) Type() Type { return c.field.Type }

// Len returns the number of values in the column.
func (c *Column) Len() int { return len(c.values) }

// At returns the value at row i.
func (c *Column) At(i int) Value { return c.values[i] }

// Dataset is a rectangular table: every column has the same row count.
// It is safe for concurrent use by multiple readers.
type Dataset struct {
	name    string
	columns []*Column
	index   map[string]int
	rows    int
}

// New assembles a Dataset from a header and raw string records, inferring
// column types. Records must already be rectangular.
func New(name string, header []string, records [][]string) (*Dataset, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("dataset: no columns")
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("dataset: column %d has a blank name", i+1)
		}
		if _, dup := index[h]; dup {
			return nil, fmt.Errorf("dataset: duplicate column name %q", h)
		}
		index[h] = i
		header[i] = h
	}

	columns := make([]*Column, len(header))
	for j, h := range header {
		raw := make([]string, len(records))
		for i, rec := range records {
			if len(rec) != len(header) {
				return nil, fmt.Errorf("dataset: row %d has %d fields, expected %d", i+1, len(rec), len(header))
			}
			raw[i] = rec[j]
		}
		typ := inferType(raw)
		values := make([]Value, len(raw))
		for i, s := range raw {
			values[i] = parseValue(typ, s)
		}
		columns[j] = &Column{field: Field{Name: h, Type: typ}, values: values}
	}

	return &Dataset{name: name, columns: columns, index: index, rows: len(records)}, nil
}

// Name returns the source name the dataset was loaded from.
func (d *Dataset) Name() string { return d.name }

// Rows returns the row count shared by all columns.
func (d *Dataset) Rows() int { return d.rows }

// Schema returns the ordered column names and types.
func (d *Dataset) Schema() []Field {
	out := make([]Field, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.field
	}
	return out
}

// Column looks up a column by exact name.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// Lookup resolves a column name exactly, then case-insensitively when the
// folded name is unambiguous.
func (d *Dataset) Lookup(name string) (*Column, bool) {
	if c, ok := d.Column(name); ok {
		return c, true
	}
	var found *Column
	for _, c := range d.columns {
		if strings.EqualFold(c.field.Name, name) {
			if found != nil {
				return nil, false
			}
			found = c
		}
	}
	return found, found != nil
}

// Window returns up to limit rows starting at offset, formatted as text.
// Out-of-range offsets yield an empty result.
func (d *Dataset) Window(offset, limit int) [][]string {
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > d.rows {
		end = d.rows
	}
	if limit <= 0 || offset >= end {
		return nil
	}
	out := make([][]string, 0, end-offset)
	for r := offset; r < end; r++ {
		rec := make([]string, len(d.columns))
		for j, c := range d.columns {
			rec[j] = Format(c.field.Type, c.values[r])
		}
		out = append(out, rec)
	}
	return out
}
