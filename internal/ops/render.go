package ops

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

const maxCellWidth = 40

// Renderer turns query frames into bounded, deterministic text.
type Renderer struct {
	PreviewRows int
	MaxBytes    int
}

// Render formats a frame. Tables longer than PreviewRows are cut with an
// explicit truncation marker; the whole text is capped at MaxBytes.
func (r Renderer) Render(f *dataset.Frame) Observation {
	if f == nil {
		return fault(RuntimeFault, "query produced no result")
	}
	if f.Scalar != nil {
		return r.cap(fmt.Sprintf("%s = %s", f.Scalar.Label, dataset.Format(f.Scalar.Type, f.Scalar.Value)), false)
	}
	return r.table(f.Table)
}

func (r Renderer) table(t *dataset.Table) Observation {
	if t == nil {
		return fault(RuntimeFault, "query produced no table")
	}
	total := len(t.Rows)
	shown := total
	truncated := false
	if r.PreviewRows > 0 && shown > r.PreviewRows {
		shown = r.PreviewRows
		truncated = true
	}

	cells := make([][]string, 0, shown+1)
	header := make([]string, len(t.Fields))
	for j, f := range t.Fields {
		header[j] = f.Name
	}
	cells = append(cells, header)
	for _, row := range t.Rows[:shown] {
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = dataset.Format(t.Fields[j].Type, v)
		}
		cells = append(cells, rec)
	}

	widths := make([]int, len(header))
	for _, rec := range cells {
		for j, c := range rec {
			c = runewidth.Truncate(c, maxCellWidth, "…")
			rec[j] = c
			if w := runewidth.StringWidth(c); w > widths[j] {
				widths[j] = w
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d rows x %d columns\n", total, len(header))
	for _, rec := range cells {
		for j, c := range rec {
			if j > 0 {
				b.WriteString(" | ")
			}
			if j == len(rec)-1 {
				b.WriteString(c)
			} else {
				b.WriteString(runewidth.FillRight(c, widths[j]))
			}
		}
		b.WriteByte('\n')
	}
	if total == 0 {
		b.WriteString("(no rows)\n")
	}
	if truncated {
		fmt.Fprintf(&b, "...truncated (showing %d of %d rows)\n", shown, total)
	}
	return r.cap(strings.TrimRight(b.String(), "\n"), truncated)
}

// cap enforces the byte budget on a line boundary.
func (r Renderer) cap(s string, truncated bool) Observation {
	if r.MaxBytes <= 0 || len(s) <= r.MaxBytes {
		return Observation{Text: s, Truncated: truncated}
	}
	marker := fmt.Sprintf("\n...truncated (observation exceeded %d bytes)", r.MaxBytes)
	budget := r.MaxBytes - len(marker)
	if budget < 0 {
		budget = 0
	}
	for budget > 0 && !utf8.RuneStart(s[budget]) {
		budget--
	}
	cut := s[:budget]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return Observation{Text: cut + marker, Truncated: true}
}
