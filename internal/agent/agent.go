// Package agent answers one question about a dataset by alternating between
// the reasoning engine and the operation executor until an answer, the
// iteration cap, or a fatal failure ends the session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinodismyname/datasavant/config"
	"github.com/vinodismyname/datasavant/internal/transcript"
	"github.com/vinodismyname/datasavant/pkg/validation"
)

// State is the terminal (or current) state of a session.
type State string

const (
	StateRunning     State = "running"
	StateSucceeded   State = "succeeded"
	StateFailedCap   State = "failed_cap"
	StateFailedFatal State = "failed_fatal"
	StateCancelled   State = "cancelled"
)

// FailureKind names why a session did not produce a normal answer.
type FailureKind string

const (
	FailureNone                 FailureKind = ""
	FailureInvalidQuestion      FailureKind = "invalid_question"
	FailureNoDataset            FailureKind = "no_dataset"
	FailureMissingCredentials   FailureKind = "missing_credentials"
	FailureTooManyParseErrors   FailureKind = "too_many_parse_errors"
	FailureReasoningTimeout     FailureKind = "reasoning_timeout"
	FailureReasoningUnavailable FailureKind = "reasoning_unavailable"
	FailureIterationCap         FailureKind = "iteration_cap"
	FailureBusy                 FailureKind = "busy"
)

// Failure is the error returned alongside a failed Result.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "agent: " + string(f.Kind)
	}
	return fmt.Sprintf("agent: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches another *Failure of the same kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Kind == f.Kind && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidQuestion    = &Failure{Kind: FailureInvalidQuestion}
	ErrNoDataset          = &Failure{Kind: FailureNoDataset}
	ErrMissingCredentials = &Failure{Kind: FailureMissingCredentials}
	ErrTooManyParseErrors = &Failure{Kind: FailureTooManyParseErrors}
	ErrReasoningTimeout   = &Failure{Kind: FailureReasoningTimeout}
	ErrReasoningFailed    = &Failure{Kind: FailureReasoningUnavailable}
	ErrIterationCap       = &Failure{Kind: FailureIterationCap}
	ErrBusy               = &Failure{Kind: FailureBusy}
)

// Result is what a caller receives for one question.
type Result struct {
	SessionID uuid.UUID   `json:"session_id"`
	State     State       `json:"state"`
	Answer    string      `json:"answer,omitempty"`
	// BestEffort marks an answer produced by the summary call after the iteration cap.
	BestEffort bool              `json:"best_effort,omitempty"`
	Failure    FailureKind       `json:"failure,omitempty"`
	Transcript []transcript.Step `json:"transcript,omitempty"`
	// Iterations counts executed and malformed steps.
	Iterations     int           `json:"iterations"`
	ReasoningCalls int           `json:"reasoning_calls"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Answered reports whether the result carries an answer for the user.
func (r Result) Answered() bool {
	return r.State == StateSucceeded || (r.State == StateFailedCap && r.BestEffort)
}

// Config bounds a session.
type Config struct {
	MaxIterations       int           `validate:"min=1,max=100"`
	MaxParseRetries     int           `validate:"min=1"`
	ReasoningTimeout    time.Duration `validate:"gt=0"`
	ExecuteTimeout      time.Duration `validate:"gt=0"`
	PreviewRows         int           `validate:"min=1"`
	MaxObservationBytes int           `validate:"min=256"`
}

// DefaultConfig returns the configured defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       config.DefaultMaxIterations,
		MaxParseRetries:     config.DefaultMaxParseRetries,
		ReasoningTimeout:    config.DefaultReasoningTimeout,
		ExecuteTimeout:      config.DefaultExecuteTimeout,
		PreviewRows:         config.DefaultPreviewRowLimit,
		MaxObservationBytes: config.DefaultMaxObservationBytes,
	}
}

// Validate checks the bounds.
func (c Config) Validate() error {
	if msg := validation.ValidateStruct(c); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// Gate bounds the number of sessions that run at once.
type Gate interface {
	AcquireSession(ctx context.Context) error
	ReleaseSession()
}

// StepEvent describes one appended transcript step.
type StepEvent struct {
	SessionID uuid.UUID
	Iteration int
	Step      transcript.Step
	Duration  time.Duration
}

// Observer receives session lifecycle events. Implementations must be safe
// for concurrent use because a Loop serves many sessions at once.
type Observer interface {
	SessionStarted(ctx context.Context, sessionID uuid.UUID, dataset, question string)
	StepCompleted(ctx context.Context, ev StepEvent)
	SessionEnded(ctx context.Context, res Result)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(context.Context, uuid.UUID, string, string) {}
func (nopObserver) StepCompleted(context.Context, StepEvent)                  {}
func (nopObserver) SessionEnded(context.Context, Result)                      {}
