package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControllerAcquireRelease(t *testing.T) {
	limits := NewLimits(1, 1, 1)
	controller := NewController(limits)

	require.Equal(t, limits, controller.LimitsSnapshot())

	require.NoError(t, controller.AcquireRequest(context.Background()))
	controller.ReleaseRequest()

	require.NoError(t, controller.AcquireDataset(context.Background()))
	controller.ReleaseDataset()

	require.NoError(t, controller.AcquireSession(context.Background()))
	controller.ReleaseSession()
}

func TestNewLimits_Defaults(t *testing.T) {
	limits := NewLimits(0, -1, 0)
	require.Positive(t, limits.MaxConcurrentRequests)
	require.Positive(t, limits.MaxOpenDatasets)
	require.Positive(t, limits.MaxConcurrentSessions)
	require.Equal(t, 10, limits.MaxIterations)
	require.Equal(t, 3, limits.MaxParseRetries)
}

func TestAcquireDataset_FailsFastWhenFull(t *testing.T) {
	controller := NewController(NewLimits(1, 1, 1))
	require.NoError(t, controller.AcquireDataset(context.Background()))
	require.ErrorIs(t, controller.AcquireDataset(context.Background()), ErrDatasetLimit)
	controller.ReleaseDataset()
	require.NoError(t, controller.AcquireDataset(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, controller.AcquireDataset(ctx), context.Canceled)
}

func TestAcquireSession_WaitsForSlot(t *testing.T) {
	controller := NewController(NewLimits(1, 1, 1))
	require.NoError(t, controller.AcquireSession(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, controller.AcquireSession(ctx), context.DeadlineExceeded)

	controller.ReleaseSession()
	require.NoError(t, controller.AcquireSession(context.Background()))
}

func TestLimits_SessionBudget(t *testing.T) {
	limits := NewLimits(1, 1, 1)
	limits.MaxIterations = 10
	limits.ReasoningTimeout = 60 * time.Second
	limits.ExecuteTimeout = 5 * time.Second
	require.Equal(t, 11*60*time.Second+10*5*time.Second, limits.SessionBudget())
	require.Greater(t, limits.SessionBudget(), limits.OperationTimeout)
}
