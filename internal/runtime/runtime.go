package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/vinodismyname/datasavant/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency, size, and time guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxOpenDatasets       int
	MaxConcurrentSessions int

	// Agent bounds
	MaxIterations       int
	MaxParseRetries     int
	PreviewRowLimit     int
	MaxPreviewRows      int
	MaxObservationBytes int
	MaxDatasetBytes     int64

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
	ReasoningTimeout      time.Duration
	ExecuteTimeout        time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentRequests, maxOpenDatasets, maxConcurrentSessions int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenDatasets <= 0 {
		maxOpenDatasets = config.DefaultMaxOpenDatasets
	}
	if maxConcurrentSessions <= 0 {
		maxConcurrentSessions = config.DefaultMaxConcurrentSessions
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxOpenDatasets:       maxOpenDatasets,
		MaxConcurrentSessions: maxConcurrentSessions,
		MaxIterations:         config.DefaultMaxIterations,
		MaxParseRetries:       config.DefaultMaxParseRetries,
		PreviewRowLimit:       config.DefaultPreviewRowLimit,
		MaxPreviewRows:        config.DefaultMaxPreviewRows,
		MaxObservationBytes:   config.DefaultMaxObservationBytes,
		MaxDatasetBytes:       config.DefaultMaxDatasetBytes,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
		ReasoningTimeout:      config.DefaultReasoningTimeout,
		ExecuteTimeout:        config.DefaultExecuteTimeout,
	}
}

// SessionBudget is the longest an agent session can legitimately run: every
// reasoning call including the best-effort summary, plus every execution.
func (l Limits) SessionBudget() time.Duration {
	return time.Duration(l.MaxIterations+1)*l.ReasoningTimeout + time.Duration(l.MaxIterations)*l.ExecuteTimeout
}

// ErrDatasetLimit reports that every open dataset slot is taken.
var ErrDatasetLimit = errors.New("runtime: open dataset limit reached")

// Controller coordinates runtime semaphores for request, dataset, and session guardrails.
type Controller struct {
	limits           Limits
	requestSemaphore *semaphore.Weighted
	datasetSemaphore *semaphore.Weighted
	sessionSemaphore *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:           limits,
		requestSemaphore: semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		datasetSemaphore: semaphore.NewWeighted(int64(limits.MaxOpenDatasets)),
		sessionSemaphore: semaphore.NewWeighted(int64(limits.MaxConcurrentSessions)),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireDataset reserves an open dataset slot without waiting; a full
// cache is reported immediately so the caller can close something first.
func (c *Controller) AcquireDataset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.datasetSemaphore.TryAcquire(1) {
		return ErrDatasetLimit
	}
	return nil
}

// ReleaseDataset frees an open dataset slot.
func (c *Controller) ReleaseDataset() {
	c.datasetSemaphore.Release(1)
}

// AcquireSession waits for an agent session slot.
func (c *Controller) AcquireSession(ctx context.Context) error {
	return c.sessionSemaphore.Acquire(ctx, 1)
}

// ReleaseSession frees an agent session slot.
func (c *Controller) ReleaseSession() {
	c.sessionSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
