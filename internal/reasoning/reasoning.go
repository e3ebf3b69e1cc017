// Package reasoning turns a question, a schema, and the transcript so far into
// the next agent step by consulting a language model.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/internal/transcript"
)

// ErrMissingCredentials is returned by factories when no API key is supplied.
var ErrMissingCredentials = errors.New("reasoning: missing credentials")

// Credentials are supplied once per question and never retained past the call.
type Credentials struct {
	APIKey string
}

// Empty reports whether no usable key is present.
func (c Credentials) Empty() bool { return strings.TrimSpace(c.APIKey) == "" }

// String never reveals the key.
func (c Credentials) String() string {
	if c.Empty() {
		return "Credentials{}"
	}
	return "Credentials{APIKey: <redacted>}"
}

// Request is everything an engine may look at to decide the next step.
type Request struct {
	Question    string
	DatasetName string
	Schema      []dataset.Field
	Rows        int
	Transcript  *transcript.Transcript
	// Summarize asks for a final answer from the evidence gathered so far.
	Summarize bool
}

// StepKind discriminates NextStep.
type StepKind int

const (
	StepAct StepKind = iota + 1
	StepFinish
)

// NextStep is either an instruction to execute or a final answer.
type NextStep struct {
	Kind        StepKind
	Instruction string
	Answer      string
}

// Act builds an action step.
func Act(instruction string) NextStep { return NextStep{Kind: StepAct, Instruction: instruction} }

// Finish builds a terminating step.
func Finish(answer string) NextStep { return NextStep{Kind: StepFinish, Answer: answer} }

func (s NextStep) String() string {
	switch s.Kind {
	case StepAct:
		return "Act(" + s.Instruction + ")"
	case StepFinish:
		return "Finish(" + s.Answer + ")"
	}
	return "NextStep(invalid)"
}

// Engine proposes the next step. Implementations must be stateless between
// calls and safe for concurrent use.
type Engine interface {
	Next(ctx context.Context, req Request) (NextStep, error)
}

// Factory builds an Engine bound to one caller's credentials.
type Factory func(creds Credentials) (Engine, error)

// ParseError reports model output that matched no recognised step pattern.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable model output: %s", e.Reason)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request) (NextStep, error)

// Next implements Engine.
func (f EngineFunc) Next(ctx context.Context, req Request) (NextStep, error) { return f(ctx, req) }
