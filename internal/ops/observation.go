package ops

import "fmt"

// ErrorKind classifies an instruction that could not produce a result.
type ErrorKind string

const (
	UnknownColumn        ErrorKind = "UnknownColumn"
	TypeMismatch         ErrorKind = "TypeMismatch"
	UnsupportedOperation ErrorKind = "UnsupportedOperation"
	RuntimeFault         ErrorKind = "RuntimeFault"
)

// ErrorObservation is the structured failure of one instruction. It is a normal
// outcome fed back to the reasoning engine, not a fatal condition.
type ErrorObservation struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

func (e *ErrorObservation) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Observation is the bounded textual result of executing an instruction.
// Exactly one of Text or Err is meaningful.
type Observation struct {
	Text      string            `json:"text,omitempty"`
	Err       *ErrorObservation `json:"error,omitempty"`
	Truncated bool              `json:"truncated,omitempty"`
}

// Failed reports whether the observation carries an error.
func (o Observation) Failed() bool { return o.Err != nil }

// String renders the observation as the model sees it.
func (o Observation) String() string {
	if o.Err != nil {
		return "Error (" + string(o.Err.Kind) + "): " + o.Err.Detail
	}
	return o.Text
}

func fault(kind ErrorKind, format string, args ...any) Observation {
	return Observation{Err: &ErrorObservation{Kind: kind, Detail: fmt.Sprintf(format, args...)}}
}
