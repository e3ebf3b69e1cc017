package reasoning

import (
	"strings"
)

const (
	finalMarker  = "final answer:"
	inputMarker  = "action input:"
	actionMarker = "action:"
)

// ParseResponse extracts the next step from raw model text. A final answer
// wins over an action when both appear. In summarize mode any non-empty text
// is accepted as the answer.
func ParseResponse(text string, summarize bool) (NextStep, error) {
	raw := text
	text = strings.TrimSpace(text)
	if text == "" {
		return NextStep{}, &ParseError{Raw: raw, Reason: "empty response"}
	}

	if answer, ok := after(text, finalMarker); ok {
		answer = strings.TrimSpace(answer)
		if answer != "" {
			return Finish(answer), nil
		}
		return NextStep{}, &ParseError{Raw: raw, Reason: "final answer is empty"}
	}

	if summarize {
		return Finish(text), nil
	}

	instruction, found := actionText(text)
	if !found {
		return NextStep{}, &ParseError{Raw: raw, Reason: "no Action Input or Final Answer line"}
	}
	instruction = unwrap(instruction)
	if instruction == "" {
		return NextStep{}, &ParseError{Raw: raw, Reason: "action instruction is empty"}
	}
	return Act(instruction), nil
}

// actionText prefers "Action Input:" and falls back to "Action:" when the
// latter carries the instruction itself.
func actionText(text string) (string, bool) {
	if rest, ok := after(text, inputMarker); ok {
		return untilMarker(rest), true
	}
	if rest, ok := after(text, actionMarker); ok {
		return untilMarker(rest), true
	}
	return "", false
}

// after returns the text following the first case-insensitive occurrence of marker.
func after(text, marker string) (string, bool) {
	i := strings.Index(strings.ToLower(text), marker)
	if i < 0 {
		return "", false
	}
	return text[i+len(marker):], true
}

// untilMarker cuts the text where the model starts hallucinating follow-up
// sections such as an Observation.
func untilMarker(s string) string {
	lower := strings.ToLower(s)
	end := len(s)
	for _, m := range []string{"\nobservation:", "\nthought:", "\naction:", "\naction input:"} {
		if i := strings.Index(lower, m); i >= 0 && i < end {
			end = i
		}
	}
	return s[:end]
}

// unwrap strips code fences, surrounding backticks, and quotes.
func unwrap(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the language tag line
			if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "(|") {
				s = s[nl+1:]
			}
		}
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	for len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' && !strings.Contains(s[1:len(s)-1], `"`) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}
