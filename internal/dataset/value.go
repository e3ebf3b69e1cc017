package dataset

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type is the declared scalar type of a column.
type Type string

const (
	Numeric  Type = "numeric"
	String   Type = "string"
	Boolean  Type = "boolean"
	Datetime Type = "datetime"
)

// Value is one cell. Raw always holds the trimmed source text; the typed
// field matching the column type is populated unless Null is set.
type Value struct {
	Null bool
	Raw  string
	Num  float64
	Bool bool
	Time time.Time
}

var dateLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "01/02/2006", "1/2/2006", "1/2/06", "2006-01-02 15:04:05", "2006-01-02T15:04:05",
}

// thousandsGrouped matches digits grouped by commas in threes, e.g. 1,234,567.89.
var thousandsGrouped = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)

// ParseNumber parses a numeric cell, tolerating a leading currency sign and
// well-formed thousands separators. Any other comma (3,5 or 1,2,3) is not a number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	neg := false
	for len(s) > 0 && (s[0] == '-' || s[0] == '$') {
		if s[0] == '-' {
			if neg {
				return 0, false
			}
			neg = true
		}
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		if !thousandsGrouped.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

// ParseBool accepts true/false and yes/no in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

// ParseTime tries the common date layouts in order.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseValue(t Type, s string) Value {
	s = strings.TrimSpace(s)
	v := Value{Raw: s}
	if s == "" {
		v.Null = true
		return v
	}
	switch t {
	case Numeric:
		v.Num, _ = ParseNumber(s)
	case Boolean:
		v.Bool, _ = ParseBool(s)
	case Datetime:
		v.Time, _ = ParseTime(s)
	}
	return v
}

// ParseLiteral converts instruction literal text into a Value of type t.
func ParseLiteral(t Type, s string) (Value, bool) {
	v := Value{Raw: s}
	switch t {
	case Numeric:
		f, ok := ParseNumber(s)
		v.Num = f
		return v, ok
	case Boolean:
		b, ok := ParseBool(s)
		v.Bool = b
		return v, ok
	case Datetime:
		tm, ok := ParseTime(s)
		v.Time = tm
		return v, ok
	default:
		return v, true
	}
}

// Format renders a value deterministically for observations.
func Format(t Type, v Value) string {
	if v.Null {
		return "null"
	}
	switch t {
	case Numeric:
		return FormatNumber(v.Num)
	case Boolean:
		return strconv.FormatBool(v.Bool)
	case Datetime:
		if v.Time.Hour() == 0 && v.Time.Minute() == 0 && v.Time.Second() == 0 {
			return v.Time.Format("2006-01-02")
		}
		return v.Time.Format("2006-01-02 15:04:05")
	default:
		return v.Raw
	}
}

// FormatNumber prints integers without a fraction and everything else with at most
// four decimals, trailing zeros trimmed.
func FormatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.Trunc(f) == f && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// compare orders two non-null values of type t.
func compare(t Type, a, b Value) int {
	switch t {
	case Numeric:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case Boolean:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		}
		return 1
	case Datetime:
		return a.Time.Compare(b.Time)
	default:
		return strings.Compare(a.Raw, b.Raw)
	}
}

// key returns a canonical grouping key for a value.
func key(t Type, v Value) string {
	if v.Null {
		return "\x00null"
	}
	return Format(t, v)
}
