package dataset

import "strings"

// typeCounter tracks which types every non-empty observation of a column parses as.
type typeCounter struct {
	nonEmpty  int
	numCount  int
	boolCount int
	dateCount int
}

func (t *typeCounter) observe(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	t.nonEmpty++
	if _, ok := ParseBool(s); ok {
		t.boolCount++
	}
	if _, ok := ParseNumber(s); ok {
		t.numCount++
	}
	if _, ok := ParseTime(s); ok {
		t.dateCount++
	}
}

// dominantType picks a type only when every non-empty value agrees, otherwise string.
func (t *typeCounter) dominantType() Type {
	switch {
	case t.nonEmpty == 0:
		return String
	case t.boolCount == t.nonEmpty:
		return Boolean
	case t.numCount == t.nonEmpty:
		return Numeric
	case t.dateCount == t.nonEmpty:
		return Datetime
	}
	return String
}

func inferType(raw []string) Type {
	var tc typeCounter
	for _, s := range raw {
		tc.observe(s)
	}
	return tc.dominantType()
}
