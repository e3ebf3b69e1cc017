package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/internal/ops"
	"github.com/vinodismyname/datasavant/internal/reasoning"
	"github.com/vinodismyname/datasavant/internal/transcript"
)

var creds = reasoning.Credentials{APIKey: "sk-test"}

func people(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(strings.NewReader("name,age\nAnn,30\nBob,35\nCid,38\n"), dataset.LoadOptions{Name: "people.csv"})
	require.NoError(t, err)
	return ds
}

// scripted replays responses in order; once exhausted it repeats the last one.
type scripted struct {
	mu       sync.Mutex
	steps    []func(reasoning.Request) (reasoning.NextStep, error)
	requests []reasoning.Request
}

func (s *scripted) Next(ctx context.Context, req reasoning.Request) (reasoning.NextStep, error) {
	s.mu.Lock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	fn := s.steps[i]
	s.mu.Unlock()
	return fn(req)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func act(instr string) func(reasoning.Request) (reasoning.NextStep, error) {
	return func(reasoning.Request) (reasoning.NextStep, error) { return reasoning.Act(instr), nil }
}

func finish(answer string) func(reasoning.Request) (reasoning.NextStep, error) {
	return func(reasoning.Request) (reasoning.NextStep, error) { return reasoning.Finish(answer), nil }
}

func garbage(raw string) func(reasoning.Request) (reasoning.NextStep, error) {
	return func(reasoning.Request) (reasoning.NextStep, error) {
		return reasoning.NextStep{}, &reasoning.ParseError{Raw: raw, Reason: "no Action Input or Final Answer line"}
	}
}

func newLoop(t *testing.T, cfg Config, engine reasoning.Engine, opts ...Option) *Loop {
	t.Helper()
	l, err := New(cfg, reasoning.StaticFactory(engine), opts...)
	require.NoError(t, err)
	return l
}

func TestAsk_MeanAgeScenario(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){
		act("mean(age)"),
		finish("The average age is 34.3"),
	}}
	res, err := newLoop(t, DefaultConfig(), engine).Ask(context.Background(), people(t), "What is the average age?", creds)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
	require.Equal(t, "The average age is 34.3", res.Answer)
	require.False(t, res.BestEffort)
	require.Len(t, res.Transcript, 2)
	require.Equal(t, "mean(age) = 34.3333", res.Transcript[0].Observation.Text)
	require.Equal(t, transcript.KindFinal, res.Transcript[1].Kind)
	require.Equal(t, 2, res.ReasoningCalls)
	require.NotEqual(t, uuid.Nil, res.SessionID)

	second := engine.requests[1]
	require.Equal(t, "people.csv", second.DatasetName)
	require.Equal(t, 3, second.Rows)
	require.Contains(t, second.Transcript.Render(), "Action Input: mean(age)\nObservation: mean(age) = 34.3333")
}

func TestAsk_UnknownColumnContinues(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){
		act("mean(salary)"),
		act("mean(age)"),
		finish("34.3"),
	}}
	res, err := newLoop(t, DefaultConfig(), engine).Ask(context.Background(), people(t), "average salary?", creds)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
	require.Len(t, res.Transcript, 3)
	obs := res.Transcript[0].Observation
	require.True(t, obs.Failed())
	require.Equal(t, ops.UnknownColumn, obs.Err.Kind)
}

func TestAsk_TooManyParseErrors(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){garbage("hmm")}}
	cfg := DefaultConfig()
	res, err := newLoop(t, cfg, engine).Ask(context.Background(), people(t), "q?", creds)
	require.ErrorIs(t, err, ErrTooManyParseErrors)
	require.Equal(t, StateFailedFatal, res.State)
	require.Equal(t, FailureTooManyParseErrors, res.Failure)
	require.Len(t, res.Transcript, cfg.MaxParseRetries)
	for _, s := range res.Transcript {
		require.True(t, s.Malformed)
		require.Equal(t, "hmm", s.Instruction)
	}
	require.Equal(t, cfg.MaxParseRetries, engine.calls())
}

func TestAsk_ParseStreakResetsAfterAction(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){
		garbage("a"), garbage("b"), act("shape()"), garbage("c"), garbage("d"), finish("3 rows"),
	}}
	res, err := newLoop(t, DefaultConfig(), engine).Ask(context.Background(), people(t), "how many rows?", creds)
	require.NoError(t, err)
	require.Equal(t, "3 rows", res.Answer)
	require.Len(t, res.Transcript, 6)
	require.Equal(t, 5, res.Iterations)
}

func TestAsk_IterationCapBestEffort(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){
		func(req reasoning.Request) (reasoning.NextStep, error) {
			if req.Summarize {
				return reasoning.Finish("Probably about 34"), nil
			}
			return reasoning.Act("describe()"), nil
		},
	}}
	cfg := DefaultConfig()
	cfg.MaxIterations = 4
	res, err := newLoop(t, cfg, engine).Ask(context.Background(), people(t), "average age?", creds)
	require.NoError(t, err)
	require.Equal(t, StateFailedCap, res.State)
	require.True(t, res.BestEffort)
	require.True(t, res.Answered())
	require.Equal(t, "Probably about 34", res.Answer)
	require.Equal(t, FailureIterationCap, res.Failure)
	require.Len(t, res.Transcript, cfg.MaxIterations)
	require.Equal(t, cfg.MaxIterations+1, res.ReasoningCalls)
	require.Equal(t, cfg.MaxIterations+1, engine.calls())
	require.True(t, engine.requests[cfg.MaxIterations].Summarize)
}

func TestAsk_IterationCapSummaryFails(t *testing.T) {
	boom := errors.New("model down")
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){
		func(req reasoning.Request) (reasoning.NextStep, error) {
			if req.Summarize {
				return reasoning.NextStep{}, boom
			}
			return reasoning.Act("shape()"), nil
		},
	}}
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	res, err := newLoop(t, cfg, engine).Ask(context.Background(), people(t), "q?", creds)
	require.ErrorIs(t, err, ErrIterationCap)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateFailedCap, res.State)
	require.False(t, res.Answered())
	require.Len(t, res.Transcript, 2)
}

func TestAsk_IterationCapSummaryTimesOut(t *testing.T) {
	engine := reasoning.EngineFunc(func(ctx context.Context, req reasoning.Request) (reasoning.NextStep, error) {
		if req.Summarize {
			<-ctx.Done()
			return reasoning.NextStep{}, ctx.Err()
		}
		return reasoning.Act("shape()"), nil
	})
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	cfg.ReasoningTimeout = 20 * time.Millisecond
	res, err := newLoop(t, cfg, engine).Ask(context.Background(), people(t), "q?", creds)
	require.ErrorIs(t, err, ErrReasoningTimeout)
	require.Equal(t, StateFailedCap, res.State)
	require.Equal(t, FailureReasoningTimeout, res.Failure)
	require.False(t, res.Answered())
	require.Len(t, res.Transcript, 2)
	require.Equal(t, 3, res.ReasoningCalls)
}

func TestAsk_ReasoningCallsBounded(t *testing.T) {
	// alternate garbage and actions so neither finish nor the parse cap ends the run
	var n atomic.Int64
	engine := reasoning.EngineFunc(func(context.Context, reasoning.Request) (reasoning.NextStep, error) {
		if n.Add(1)%2 == 0 {
			return reasoning.NextStep{}, &reasoning.ParseError{Raw: "x", Reason: "bad"}
		}
		return reasoning.Act("count()"), nil
	})
	cfg := DefaultConfig()
	res, _ := newLoop(t, cfg, engine).Ask(context.Background(), people(t), "q?", creds)
	require.LessOrEqual(t, res.ReasoningCalls, cfg.MaxIterations+1)
	require.LessOrEqual(t, len(res.Transcript), cfg.MaxIterations)
}

func TestAsk_PreconditionFailures(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){finish("x")}}
	l := newLoop(t, DefaultConfig(), engine)

	res, err := l.Ask(context.Background(), people(t), "q?", reasoning.Credentials{})
	require.ErrorIs(t, err, ErrMissingCredentials)
	require.Equal(t, StateFailedFatal, res.State)
	require.Equal(t, FailureMissingCredentials, res.Failure)
	require.Empty(t, res.Transcript)

	res, err = l.Ask(context.Background(), people(t), "   ", creds)
	require.ErrorIs(t, err, ErrInvalidQuestion)
	require.Equal(t, FailureInvalidQuestion, res.Failure)

	_, err = l.Ask(context.Background(), nil, "q?", creds)
	require.ErrorIs(t, err, ErrNoDataset)

	require.Zero(t, engine.calls())
}

func TestAsk_FactoryFailure(t *testing.T) {
	boom := errors.New("bad base url")
	l, err := New(DefaultConfig(), func(reasoning.Credentials) (reasoning.Engine, error) { return nil, boom })
	require.NoError(t, err)
	res, err := l.Ask(context.Background(), people(t), "q?", creds)
	require.ErrorIs(t, err, ErrReasoningFailed)
	require.ErrorIs(t, err, boom)
	require.Equal(t, FailureReasoningUnavailable, res.Failure)
}

func TestAsk_ReasoningTimeout(t *testing.T) {
	engine := reasoning.EngineFunc(func(ctx context.Context, _ reasoning.Request) (reasoning.NextStep, error) {
		<-ctx.Done()
		return reasoning.NextStep{}, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.ReasoningTimeout = 20 * time.Millisecond
	res, err := newLoop(t, cfg, engine).Ask(context.Background(), people(t), "q?", creds)
	require.ErrorIs(t, err, ErrReasoningTimeout)
	require.Equal(t, StateFailedFatal, res.State)
	require.Equal(t, FailureReasoningTimeout, res.Failure)
}

func TestAsk_ReasoningUnavailable(t *testing.T) {
	boom := errors.New("401 unauthorized")
	engine := reasoning.EngineFunc(func(context.Context, reasoning.Request) (reasoning.NextStep, error) {
		return reasoning.NextStep{}, boom
	})
	res, err := newLoop(t, DefaultConfig(), engine).Ask(context.Background(), people(t), "q?", creds)
	require.ErrorIs(t, err, boom)
	require.Equal(t, FailureReasoningUnavailable, res.Failure)
}

func TestAsk_CancelledAtStepBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := reasoning.EngineFunc(func(context.Context, reasoning.Request) (reasoning.NextStep, error) {
		cancel() // the instruction still runs; the next boundary observes cancellation
		return reasoning.Act("describe()"), nil
	})
	res, err := newLoop(t, DefaultConfig(), engine).Ask(ctx, people(t), "q?", creds)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateCancelled, res.State)
	require.Empty(t, res.Answer)
	require.Nil(t, res.Transcript)
	require.Equal(t, 1, res.ReasoningCalls)
	require.Equal(t, 1, res.Iterations)
}

func TestAsk_CancelledDuringReasoning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := reasoning.EngineFunc(func(ctx context.Context, _ reasoning.Request) (reasoning.NextStep, error) {
		cancel()
		<-ctx.Done()
		return reasoning.NextStep{}, ctx.Err()
	})
	res, err := newLoop(t, DefaultConfig(), engine).Ask(ctx, people(t), "q?", creds)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateCancelled, res.State)
	require.Nil(t, res.Transcript)
}

func TestAsk_EmptyStepsAreParseErrors(t *testing.T) {
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){
		act("   "), finish(""), finish("done"),
	}}
	res, err := newLoop(t, DefaultConfig(), engine).Ask(context.Background(), people(t), "q?", creds)
	require.NoError(t, err)
	require.Equal(t, "done", res.Answer)
	require.True(t, res.Transcript[0].Malformed)
	require.True(t, res.Transcript[1].Malformed)
}

func TestAsk_ConcurrentSessionsShareDataset(t *testing.T) {
	ds := people(t)
	engine := reasoning.EngineFunc(func(_ context.Context, req reasoning.Request) (reasoning.NextStep, error) {
		if req.Transcript.Len() == 0 {
			return reasoning.Act("mean(age)"), nil
		}
		return reasoning.Finish(req.Transcript.Steps()[0].Observation.Text), nil
	})
	gate := &countingGate{}
	l := newLoop(t, DefaultConfig(), engine, WithGate(gate))

	var wg sync.WaitGroup
	results := make([]Result, 16)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Ask(context.Background(), ds, "average age?", creds)
		}(i)
	}
	wg.Wait()

	seen := map[uuid.UUID]bool{}
	for i, res := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "mean(age) = 34.3333", res.Answer)
		require.Len(t, res.Transcript, 2)
		seen[res.SessionID] = true
	}
	require.Len(t, seen, len(results))
	require.Equal(t, int64(0), gate.active.Load())
	require.Equal(t, int64(len(results)), gate.total.Load())
}

func TestAsk_ObserverEvents(t *testing.T) {
	rec := &recorder{}
	engine := &scripted{steps: []func(reasoning.Request) (reasoning.NextStep, error){act("shape()"), finish("3x2")}}
	_, err := newLoop(t, DefaultConfig(), engine, WithObserver(rec)).Ask(context.Background(), people(t), "shape?", creds)
	require.NoError(t, err)
	require.Equal(t, []string{"start", "step", "step", "end"}, rec.events)
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	_, err := New(cfg, reasoning.StaticFactory(nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "maxiterations")

	cfg = DefaultConfig()
	cfg.ReasoningTimeout = 0
	_, err = New(cfg, reasoning.StaticFactory(nil))
	require.Error(t, err)

	_, err = New(DefaultConfig(), nil)
	require.Error(t, err)
}

type countingGate struct {
	active atomic.Int64
	total  atomic.Int64
}

func (g *countingGate) AcquireSession(context.Context) error {
	g.active.Add(1)
	g.total.Add(1)
	return nil
}

func (g *countingGate) ReleaseSession() { g.active.Add(-1) }

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) SessionStarted(context.Context, uuid.UUID, string, string) { r.add("start") }
func (r *recorder) StepCompleted(context.Context, StepEvent)                  { r.add("step") }
func (r *recorder) SessionEnded(context.Context, Result)                      { r.add("end") }
