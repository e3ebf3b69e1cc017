package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/datasavant/pkg/mcperr"
)

// Middleware enforces runtime limits for tool calls using the Controller.
// It bounds global concurrency and applies an operation timeout to each call.
type Middleware struct {
	ctrl     *Controller
	logger   zerolog.Logger
	timeouts map[string]time.Duration
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
// The logger is attached to every call context so handlers can use zerolog.Ctx.
func NewMiddleware(ctrl *Controller, logger zerolog.Logger) *Middleware {
	return &Middleware{ctrl: ctrl, logger: logger, timeouts: map[string]time.Duration{}}
}

// WithTimeout overrides OperationTimeout for one tool; d <= 0 disables the deadline.
func (m *Middleware) WithTimeout(tool string, d time.Duration) *Middleware {
	m.timeouts[tool] = d
	return m
}

func (m *Middleware) timeoutFor(tool string) time.Duration {
	if d, ok := m.timeouts[tool]; ok {
		return d
	}
	return m.ctrl.limits.OperationTimeout
}

// ToolMiddleware implements mcp-go's tool handler middleware interface.
// It acquires a request slot, applies a timeout, and guarantees release.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = m.logger.With().Str("tool", req.Params.Name).Logger().WithContext(ctx)

		acquireCtx := ctx
		if m.ctrl.limits.AcquireRequestTimeout > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
			defer cancel()
		}

		if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
			// Tool-level error so the client can retry.
			return mcperr.Wrapf(mcperr.BusyResource, "concurrent request limit reached (max=%d)", m.ctrl.limits.MaxConcurrentRequests), nil
		}
		defer m.ctrl.ReleaseRequest()

		limit := m.timeoutFor(req.Params.Name)
		callCtx := ctx
		cancel := func() {}
		if limit > 0 {
			callCtx, cancel = context.WithTimeout(ctx, limit)
		}
		defer cancel()

		res, err := next(callCtx, req)

		// Prefer a tool-level timeout over a raw deadline error.
		if errors.Is(err, context.DeadlineExceeded) || (errors.Is(callCtx.Err(), context.DeadlineExceeded) && err == nil && res == nil) {
			zerolog.Ctx(ctx).Warn().Dur("limit", limit).Msg("tool call timed out")
			return mcperr.New(mcperr.Timeout, ""), nil
		}

		return res, err
	}
}
