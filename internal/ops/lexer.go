package ops

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrSyntax marks instructions the parser could not read.
var ErrSyntax = errors.New("syntax error")

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokPipe
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of instruction"
	case tokString:
		return fmt.Sprintf("%q", t.text)
	case tokQuotedIdent:
		return "`" + t.text + "`"
	}
	return t.text
}

func lex(src string) ([]token, error) {
	var out []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case r == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case r == ',':
			out = append(out, token{tokComma, ",", i})
			i++
		case r == '.' && !(i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			out = append(out, token{tokDot, ".", i})
			i++
		case r == '|' && i+1 < len(rs) && rs[i+1] == '|':
			out = append(out, token{tokIdent, "or", i})
			i += 2
		case r == '|':
			out = append(out, token{tokPipe, "|", i})
			i++
		case r == '&' && i+1 < len(rs) && rs[i+1] == '&':
			out = append(out, token{tokIdent, "and", i})
			i += 2
		case r == '=' || r == '!' || r == '<' || r == '>':
			start := i
			i++
			if i < len(rs) && rs[i] == '=' {
				i++
			}
			op := string(rs[start:i])
			switch op {
			case "=":
				op = "=="
			case "!":
				return nil, fmt.Errorf("%w: unexpected '!' at %d", ErrSyntax, start)
			}
			out = append(out, token{tokOp, op, start})
		case r == '"' || r == '\'' || r == '`':
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < len(rs) {
				if rs[i] == '\\' && i+1 < len(rs) {
					b.WriteRune(rs[i+1])
					i += 2
					continue
				}
				if rs[i] == r {
					closed = true
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quote at %d", ErrSyntax, start)
			}
			kind := tokString
			if r == '`' {
				kind = tokQuotedIdent
			}
			out = append(out, token{kind, b.String(), start})
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])) || (r == '-' && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.') && numberAllowed(out)):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E' ||
				((rs[i] == '-' || rs[i] == '+') && (rs[i-1] == 'e' || rs[i-1] == 'E'))) {
				i++
			}
			out = append(out, token{tokNumber, string(rs[start:i]), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			out = append(out, token{tokIdent, string(rs[start:i]), start})
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
		}
	}
	out = append(out, token{tokEOF, "", len(rs)})
	return out, nil
}

// numberAllowed reports whether a '-' starts a negative literal rather than an operator.
func numberAllowed(prev []token) bool {
	if len(prev) == 0 {
		return true
	}
	switch prev[len(prev)-1].kind {
	case tokOp, tokLParen, tokComma:
		return true
	}
	return false
}
