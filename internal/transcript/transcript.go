// Package transcript records the ordered, append-only history of one question:
// action steps with their observations, and at most one final answer.
package transcript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vinodismyname/datasavant/internal/ops"
)

// ErrFinalized is returned when appending to a transcript that already has a final answer.
var ErrFinalized = errors.New("transcript: final step already recorded")

// Kind distinguishes the step variants.
type Kind string

const (
	KindAction Kind = "action"
	KindFinal  Kind = "final"
)

// Step is one entry. For KindAction, Instruction and Observation are set; a
// synthetic step for malformed model output carries Malformed=true and the raw
// model text in Instruction. For KindFinal only Answer is set.
type Step struct {
	Kind        Kind             `json:"kind"`
	Instruction string           `json:"instruction,omitempty"`
	Observation *ops.Observation `json:"observation,omitempty"`
	Malformed   bool             `json:"malformed,omitempty"`
	Answer      string           `json:"answer,omitempty"`
}

// Transcript is exclusively owned by one agent run and is not safe for concurrent writes.
type Transcript struct {
	steps []Step
}

// New returns an empty transcript.
func New() *Transcript { return &Transcript{} }

// AppendAction records an executed instruction and its observation.
func (t *Transcript) AppendAction(instruction string, obs ops.Observation) error {
	return t.append(Step{Kind: KindAction, Instruction: instruction, Observation: &obs})
}

// AppendMalformed records model output that matched no step pattern.
func (t *Transcript) AppendMalformed(raw, explanation string) error {
	obs := ops.Observation{Text: explanation}
	return t.append(Step{Kind: KindAction, Instruction: raw, Observation: &obs, Malformed: true})
}

// AppendFinal records the terminating answer.
func (t *Transcript) AppendFinal(answer string) error {
	return t.append(Step{Kind: KindFinal, Answer: answer})
}

func (t *Transcript) append(s Step) error {
	if t.Finalized() {
		return ErrFinalized
	}
	t.steps = append(t.steps, s)
	return nil
}

// Len returns the number of steps.
func (t *Transcript) Len() int { return len(t.steps) }

// Finalized reports whether the last step is a final answer.
func (t *Transcript) Finalized() bool {
	return len(t.steps) > 0 && t.steps[len(t.steps)-1].Kind == KindFinal
}

// Steps returns a copy of the recorded steps.
func (t *Transcript) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

// Render formats the history the way the reasoning engine expects to read it.
func (t *Transcript) Render() string {
	var b strings.Builder
	for i, s := range t.steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch {
		case s.Kind == KindFinal:
			fmt.Fprintf(&b, "Final Answer: %s\n", s.Answer)
		case s.Malformed:
			fmt.Fprintf(&b, "(unparsable response)\nObservation: %s\n", s.Observation.String())
		default:
			fmt.Fprintf(&b, "Action Input: %s\nObservation: %s\n", s.Instruction, s.Observation.String())
		}
	}
	return b.String()
}
