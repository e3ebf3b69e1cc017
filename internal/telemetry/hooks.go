package telemetry

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/datasavant/internal/agent"
	"github.com/vinodismyname/datasavant/internal/transcript"
)

// Hooks logs MCP server lifecycle events and agent sessions.
// Questions and answers are logged by length only; credentials never reach it.
type Hooks struct {
	logger zerolog.Logger

	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	steps     atomic.Int64
}

// Counters is a point-in-time view of session outcomes.
type Counters struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Steps     int64 `json:"steps"`
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

var _ agent.Observer = (*Hooks)(nil)

// SessionStarted implements agent.Observer.
func (h *Hooks) SessionStarted(_ context.Context, id uuid.UUID, dataset, question string) {
	h.started.Add(1)
	h.logger.Info().
		Str("session_id", id.String()).
		Str("dataset", dataset).
		Int("question_len", len(question)).
		Msg("agent session started")
}

// StepCompleted implements agent.Observer.
func (h *Hooks) StepCompleted(_ context.Context, ev agent.StepEvent) {
	h.steps.Add(1)
	evt := h.logger.Debug().
		Str("session_id", ev.SessionID.String()).
		Int("iteration", ev.Iteration).
		Str("kind", string(ev.Step.Kind)).
		Dur("duration", ev.Duration)
	switch {
	case ev.Step.Kind == transcript.KindFinal:
		evt.Msg("agent finished")
	case ev.Step.Malformed:
		evt.Msg("unparsable reasoning response")
	default:
		if ev.Step.Observation != nil && ev.Step.Observation.Failed() {
			evt = evt.Str("error_kind", string(ev.Step.Observation.Err.Kind))
		}
		evt.Str("instruction", ev.Step.Instruction).Msg("agent step")
	}
}

// SessionEnded implements agent.Observer.
func (h *Hooks) SessionEnded(_ context.Context, res agent.Result) {
	var evt *zerolog.Event
	switch res.State {
	case agent.StateSucceeded:
		h.succeeded.Add(1)
		evt = h.logger.Info()
	case agent.StateCancelled:
		h.cancelled.Add(1)
		evt = h.logger.Info()
	default:
		h.failed.Add(1)
		evt = h.logger.Warn().Str("failure", string(res.Failure))
	}
	evt.Str("session_id", res.SessionID.String()).
		Str("state", string(res.State)).
		Bool("best_effort", res.BestEffort).
		Int("iterations", res.Iterations).
		Int("reasoning_calls", res.ReasoningCalls).
		Dur("elapsed", res.Elapsed).
		Msg("agent session ended")
}

// Snapshot returns the current counters.
func (h *Hooks) Snapshot() Counters {
	return Counters{
		Started:   h.started.Load(),
		Succeeded: h.succeeded.Load(),
		Failed:    h.failed.Load(),
		Cancelled: h.cancelled.Load(),
		Steps:     h.steps.Load(),
	}
}

// Server builds mcp-go server hooks that log sessions, tool calls, and errors.
func (h *Hooks) Server() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("client_session", session.SessionID()).Msg("client session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("client_session", session.SessionID()).Msg("client session unregistered")
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		h.logger.Debug().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		evt := h.logger.Info().Str("tool", req.Params.Name)
		if res != nil && res.IsError {
			evt = h.logger.Warn().Str("tool", req.Params.Name).Bool("tool_error", true)
		}
		evt.Msg("tool call served")
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		h.logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}
