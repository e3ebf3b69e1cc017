// Package ops executes constrained data instructions against a dataset and
// renders bounded observations for the reasoning engine.
package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vinodismyname/datasavant/config"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

// Executor validates and runs instructions. It holds no per-call state and is
// safe for concurrent use.
type Executor struct {
	Timeout  time.Duration
	Renderer Renderer
}

// NewExecutor builds an Executor, substituting config defaults for unset values.
func NewExecutor(timeout time.Duration, previewRows, maxBytes int) *Executor {
	if timeout <= 0 {
		timeout = config.DefaultExecuteTimeout
	}
	if previewRows <= 0 {
		previewRows = config.DefaultPreviewRowLimit
	}
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxObservationBytes
	}
	return &Executor{Timeout: timeout, Renderer: Renderer{PreviewRows: previewRows, MaxBytes: maxBytes}}
}

// Execute runs one instruction. It never returns an error: every failure is
// reported as an Observation carrying an ErrorObservation.
func (e *Executor) Execute(ctx context.Context, ds *dataset.Dataset, instruction string) (obs Observation) {
	defer func() {
		if r := recover(); r != nil {
			obs = fault(RuntimeFault, "execution panicked: %v", r)
		}
	}()
	if ds == nil {
		return fault(RuntimeFault, "no dataset loaded")
	}

	stages, err := Parse(instruction)
	if err != nil {
		return classify(ds, err)
	}
	plan, err := ds.Plan(stages)
	if err != nil {
		return classify(ds, err)
	}

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	frame, err := plan.Run(runCtx)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("instruction", instruction).Msg("instruction failed at runtime")
		if errors.Is(err, context.DeadlineExceeded) {
			return fault(RuntimeFault, "instruction timed out after %s", e.Timeout)
		}
		return classify(ds, err)
	}
	return e.Renderer.Render(frame)
}

func classify(ds *dataset.Dataset, err error) Observation {
	switch {
	case errors.Is(err, dataset.ErrUnknownColumn):
		return fault(UnknownColumn, "%s; available columns: %s", err.Error(), columnList(ds))
	case errors.Is(err, dataset.ErrTypeMismatch):
		return fault(TypeMismatch, "%s", err.Error())
	case errors.Is(err, dataset.ErrUnsupported), errors.Is(err, ErrSyntax):
		return fault(UnsupportedOperation, "%s; see the instruction vocabulary", err.Error())
	case errors.Is(err, context.Canceled):
		return fault(RuntimeFault, "instruction cancelled")
	}
	return fault(RuntimeFault, "%s", err.Error())
}

func columnList(ds *dataset.Dataset) string {
	schema := ds.Schema()
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = fmt.Sprintf("%s (%s)", f.Name, f.Type)
	}
	return strings.Join(names, ", ")
}

var defaultExecutor = NewExecutor(0, 0, 0)

// Execute runs an instruction with the default limits.
func Execute(ctx context.Context, ds *dataset.Dataset, instruction string) Observation {
	return defaultExecutor.Execute(ctx, ds, instruction)
}

// Vocabulary documents the instruction language for prompts and tool descriptions.
const Vocabulary = `Instructions are pipelines of stages separated by "|". Column names with spaces go in backticks; text values go in quotes.
Row stages:
  filter(col op value [and|or col op value ...])   ops: == != < <= > >= contains startswith
  select(col, ...)   sort(col [asc|desc], ...)   head(n)   tail(n)   group(col, ...)
Terminal stages (must be last; group must be followed by an aggregate):
  count()  count(col)  sum(col)  mean(col)  median(col)  min(col)  max(col)  std(col)  nunique(col)
  describe()  describe(col, ...)  value_counts(col)  shape()  columns()
Examples:
  mean(age)
  filter(sex == "male" and age > 30) | count()
  group(sex) | mean(age)
  sort(fare desc) | select(name, fare) | head(3)`
