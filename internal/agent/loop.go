package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/internal/ops"
	"github.com/vinodismyname/datasavant/internal/reasoning"
	"github.com/vinodismyname/datasavant/internal/transcript"
)

// Loop runs sessions. It holds no per-session state and may serve concurrent
// questions against a shared dataset.
type Loop struct {
	cfg      Config
	engines  reasoning.Factory
	exec     *ops.Executor
	observer Observer
	gate     Gate
}

// Option customises a Loop.
type Option func(*Loop)

// WithObserver installs lifecycle callbacks.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithGate bounds concurrent sessions.
func WithGate(g Gate) Option {
	return func(l *Loop) { l.gate = g }
}

// New validates cfg and builds a Loop that obtains engines from engines.
func New(cfg Config, engines reasoning.Factory, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engines == nil {
		return nil, errors.New("agent: reasoning factory is required")
	}
	l := &Loop{
		cfg:      cfg,
		engines:  engines,
		exec:     ops.NewExecutor(cfg.ExecuteTimeout, cfg.PreviewRows, cfg.MaxObservationBytes),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the bounds the loop was built with.
func (l *Loop) Config() Config { return l.cfg }

// session is the state of one question. It is never shared.
type session struct {
	id       uuid.UUID
	ds       *dataset.Dataset
	question string
	engine   reasoning.Engine
	tr       *transcript.Transcript
	res      Result
	started  time.Time
}

// Ask answers question about ds. The returned error is nil when the result
// carries an answer (including a best-effort answer after the iteration cap);
// otherwise it is a *Failure or, on cancellation, the context error.
func (l *Loop) Ask(ctx context.Context, ds *dataset.Dataset, question string, creds reasoning.Credentials) (Result, error) {
	s := &session{id: uuid.New(), ds: ds, question: strings.TrimSpace(question), tr: transcript.New(), started: time.Now()}
	s.res = Result{SessionID: s.id, State: StateRunning}

	switch {
	case s.question == "":
		return l.fatal(ctx, s, FailureInvalidQuestion, nil)
	case ds == nil:
		return l.fatal(ctx, s, FailureNoDataset, nil)
	case creds.Empty():
		return l.fatal(ctx, s, FailureMissingCredentials, nil)
	}

	engine, err := l.engines(creds)
	if err != nil {
		if errors.Is(err, reasoning.ErrMissingCredentials) {
			return l.fatal(ctx, s, FailureMissingCredentials, nil)
		}
		return l.fatal(ctx, s, FailureReasoningUnavailable, err)
	}
	s.engine = engine

	if l.gate != nil {
		if err := l.gate.AcquireSession(ctx); err != nil {
			if ctx.Err() != nil {
				return l.cancel(ctx, s)
			}
			return l.fatal(ctx, s, FailureBusy, err)
		}
		defer l.gate.ReleaseSession()
	}

	logger := zerolog.Ctx(ctx).With().Str("session_id", s.id.String()).Logger()
	ctx = logger.WithContext(ctx)
	l.observer.SessionStarted(ctx, s.id, ds.Name(), s.question)

	return l.run(ctx, s)
}

func (l *Loop) run(ctx context.Context, s *session) (Result, error) {
	streak := 0
	for s.res.Iterations < l.cfg.MaxIterations {
		if ctx.Err() != nil {
			return l.cancel(ctx, s)
		}
		began := time.Now()
		step, timedOut, err := l.reason(ctx, s, false)
		if err != nil {
			var pe *reasoning.ParseError
			if !errors.As(err, &pe) {
				return l.engineFailure(ctx, s, timedOut, err)
			}
			streak++
			_ = s.tr.AppendMalformed(pe.Raw, malformedFeedback(pe))
			l.stepped(ctx, s, began)
			if streak >= l.cfg.MaxParseRetries {
				return l.fatal(ctx, s, FailureTooManyParseErrors, err)
			}
			continue
		}

		if step.Kind == reasoning.StepFinish {
			_ = s.tr.AppendFinal(step.Answer)
			l.observer.StepCompleted(ctx, StepEvent{SessionID: s.id, Iteration: s.res.Iterations, Step: lastStep(s.tr), Duration: time.Since(began)})
			s.res.State = StateSucceeded
			s.res.Answer = step.Answer
			return l.finish(ctx, s, nil)
		}

		// Execution is never interrupted by the caller; cancellation is
		// honoured at the next step boundary.
		obs := l.exec.Execute(context.WithoutCancel(ctx), s.ds, step.Instruction)
		_ = s.tr.AppendAction(step.Instruction, obs)
		streak = 0
		l.stepped(ctx, s, began)
	}

	if ctx.Err() != nil {
		return l.cancel(ctx, s)
	}
	return l.summarize(ctx, s)
}

// summarize makes the single best-effort call once the cap is reached.
func (l *Loop) summarize(ctx context.Context, s *session) (Result, error) {
	s.res.State = StateFailedCap
	s.res.Failure = FailureIterationCap

	step, timedOut, err := l.reason(ctx, s, true)
	if err != nil && ctx.Err() != nil {
		return l.cancel(ctx, s)
	}
	if err == nil && step.Kind != reasoning.StepFinish {
		err = errors.New("summary call did not produce an answer")
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Bool("timed_out", timedOut).Msg("best-effort summary failed")
		// The state stays FailedCap; only the cause is refined.
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			s.res.Failure = FailureReasoningTimeout
		}
		return l.finish(ctx, s, &Failure{Kind: s.res.Failure, Err: err})
	}
	s.res.Answer = step.Answer
	s.res.BestEffort = true
	return l.finish(ctx, s, nil)
}

// reason calls the engine under the reasoning timeout and normalises steps
// that carry no text into parse errors.
func (l *Loop) reason(ctx context.Context, s *session, summarize bool) (reasoning.NextStep, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.ReasoningTimeout)
	defer cancel()

	s.res.ReasoningCalls++
	step, err := s.engine.Next(callCtx, reasoning.Request{
		Question:    s.question,
		DatasetName: s.ds.Name(),
		Schema:      s.ds.Schema(),
		Rows:        s.ds.Rows(),
		Transcript:  s.tr,
		Summarize:   summarize,
	})
	timedOut := ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	if err != nil {
		return reasoning.NextStep{}, timedOut, err
	}
	switch {
	case step.Kind == reasoning.StepAct && strings.TrimSpace(step.Instruction) == "":
		return reasoning.NextStep{}, false, &reasoning.ParseError{Reason: "action instruction is empty"}
	case step.Kind == reasoning.StepFinish && strings.TrimSpace(step.Answer) == "":
		return reasoning.NextStep{}, false, &reasoning.ParseError{Reason: "final answer is empty"}
	case step.Kind != reasoning.StepAct && step.Kind != reasoning.StepFinish:
		return reasoning.NextStep{}, false, &reasoning.ParseError{Reason: "engine returned no step"}
	}
	step.Instruction = strings.TrimSpace(step.Instruction)
	step.Answer = strings.TrimSpace(step.Answer)
	return step, false, nil
}

func (l *Loop) engineFailure(ctx context.Context, s *session, timedOut bool, err error) (Result, error) {
	switch {
	case ctx.Err() != nil:
		return l.cancel(ctx, s)
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		return l.fatal(ctx, s, FailureReasoningTimeout, err)
	}
	return l.fatal(ctx, s, FailureReasoningUnavailable, err)
}

func (l *Loop) stepped(ctx context.Context, s *session, began time.Time) {
	s.res.Iterations++
	l.observer.StepCompleted(ctx, StepEvent{SessionID: s.id, Iteration: s.res.Iterations, Step: lastStep(s.tr), Duration: time.Since(began)})
}

func (l *Loop) fatal(ctx context.Context, s *session, kind FailureKind, cause error) (Result, error) {
	s.res.State = StateFailedFatal
	s.res.Failure = kind
	return l.finish(ctx, s, &Failure{Kind: kind, Err: cause})
}

// cancel discards the transcript; no answer is produced.
func (l *Loop) cancel(ctx context.Context, s *session) (Result, error) {
	s.res.State = StateCancelled
	s.res.Answer = ""
	s.res.Elapsed = time.Since(s.started)
	l.observer.SessionEnded(ctx, s.res)
	return s.res, ctx.Err()
}

func (l *Loop) finish(ctx context.Context, s *session, err error) (Result, error) {
	if s.tr.Len() > 0 {
		s.res.Transcript = s.tr.Steps()
	}
	s.res.Elapsed = time.Since(s.started)
	l.observer.SessionEnded(ctx, s.res)
	return s.res, err
}

func lastStep(tr *transcript.Transcript) transcript.Step {
	steps := tr.Steps()
	return steps[len(steps)-1]
}

func malformedFeedback(pe *reasoning.ParseError) string {
	return fmt.Sprintf("Could not parse your last response (%s). Reply with either \"Action Input: <instruction>\" or \"Final Answer: <answer>\".", pe.Reason)
}
