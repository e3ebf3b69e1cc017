package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinodismyname/datasavant/config"
	"github.com/xuri/excelize/v2"
)

// LoadReason classifies why a source could not become a Dataset.
type LoadReason string

const (
	ReasonUnreadable LoadReason = "unreadable"
	ReasonMalformed  LoadReason = "malformed"
	ReasonEmpty      LoadReason = "empty"
)

// LoadError is returned by Load and LoadFile for any source that cannot be
// parsed into a rectangular table with at least one row.
type LoadError struct {
	Reason LoadReason
	Source string
	Detail string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("dataset: load %s: %s", e.Source, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadOptions tunes parsing. Zero values select defaults.
type LoadOptions struct {
	// Name labels the dataset in schema summaries and errors.
	Name string
	// Delimiter for delimited text. If 0, auto-detects among ',', ';', '\t', '|'.
	Delimiter rune
	// MaxBytes bounds the source size; <= 0 uses config.DefaultMaxDatasetBytes.
	MaxBytes int64
}

// Supported file extensions for LoadFile.
var (
	delimitedExts = []string{".csv", ".tsv", ".txt"}
	workbookExts  = []string{".xlsx", ".xlsm"}
)

// SupportedExtensions lists every extension LoadFile accepts.
func SupportedExtensions() []string {
	out := make([]string, 0, len(delimitedExts)+len(workbookExts))
	out = append(out, delimitedExts...)
	return append(out, workbookExts...)
}

// LoadFile opens path and dispatches on its extension.
func LoadFile(path string, opts LoadOptions) (*Dataset, error) {
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	isWorkbook := contains(workbookExts, ext)
	if !isWorkbook && !contains(delimitedExts, ext) {
		return nil, &LoadError{Reason: ReasonUnreadable, Source: opts.Name, Detail: "unsupported format " + ext}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Reason: ReasonUnreadable, Source: opts.Name, Err: err}
	}
	defer f.Close() //nolint:errcheck

	if isWorkbook {
		return LoadWorkbook(f, opts)
	}
	if ext == ".tsv" && opts.Delimiter == 0 {
		opts.Delimiter = '\t'
	}
	return Load(f, opts)
}

// Load parses delimited text whose first record is the header row.
func Load(r io.Reader, opts LoadOptions) (*Dataset, error) {
	name := sourceName(opts)
	data, err := readBounded(r, opts.MaxBytes)
	if err != nil {
		return nil, &LoadError{Reason: ReasonUnreadable, Source: name, Err: err}
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &LoadError{Reason: ReasonEmpty, Source: name, Detail: "no header row"}
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = detectDelimiter(data)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &LoadError{Reason: ReasonMalformed, Source: name, Err: err}
	}
	return build(name, records)
}

// LoadWorkbook reads the first sheet of an Excel workbook; row 1 is the header.
func LoadWorkbook(r io.Reader, opts LoadOptions) (*Dataset, error) {
	name := sourceName(opts)
	data, err := readBounded(r, opts.MaxBytes)
	if err != nil {
		return nil, &LoadError{Reason: ReasonUnreadable, Source: name, Err: err}
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{Reason: ReasonUnreadable, Source: name, Err: err}
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &LoadError{Reason: ReasonEmpty, Source: name, Detail: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &LoadError{Reason: ReasonUnreadable, Source: name, Err: err}
	}
	// Trailing blank rows are not data.
	for len(rows) > 0 && blankRecord(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return nil, &LoadError{Reason: ReasonEmpty, Source: name, Detail: "no header row"}
	}
	// excelize drops trailing empty cells; pad short rows to the header width.
	width := len(rows[0])
	for i := 1; i < len(rows); i++ {
		for len(rows[i]) < width {
			rows[i] = append(rows[i], "")
		}
	}
	return build(name, rows)
}

func build(name string, records [][]string) (*Dataset, error) {
	if len(records) == 0 {
		return nil, &LoadError{Reason: ReasonEmpty, Source: name, Detail: "no header row"}
	}
	header := records[0]
	body := records[1:]
	if len(body) == 0 {
		return nil, &LoadError{Reason: ReasonEmpty, Source: name, Detail: "header only, zero data rows"}
	}
	for i, rec := range body {
		if len(rec) != len(header) {
			return nil, &LoadError{
				Reason: ReasonMalformed,
				Source: name,
				Detail: fmt.Sprintf("row %d has %d fields, expected %d", i+2, len(rec), len(header)),
			}
		}
	}
	ds, err := New(name, append([]string(nil), header...), body)
	if err != nil {
		return nil, &LoadError{Reason: ReasonMalformed, Source: name, Err: err}
	}
	return ds, nil
}

// ErrTooLarge is wrapped by a LoadError when a source exceeds MaxBytes.
var ErrTooLarge = errors.New("source exceeds size limit")

func readBounded(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil reader")
	}
	if limit <= 0 {
		limit = config.DefaultMaxDatasetBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// detectDelimiter counts candidate separators outside quotes on the header line.
func detectDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	candidates := []rune{',', ';', '\t', '|'}
	counts := make(map[rune]int, len(candidates))
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}
	best := ','
	for _, c := range candidates {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func blankRecord(rec []string) bool {
	for _, s := range rec {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func sourceName(opts LoadOptions) string {
	if opts.Name != "" {
		return opts.Name
	}
	return "dataset"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
