package datasets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

// fakeGate implements DatasetGate for tests with counters.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireDataset(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseDataset() { g.releases.Add(1) }

func sample(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(strings.NewReader("a,b\n1,x\n2,y\n"), dataset.LoadOptions{Name: "sample.csv"})
	require.NoError(t, err)
	return ds
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestAdoptGetClose(t *testing.T) {
	gate := &fakeGate{}
	// Use a long TTL to avoid eviction in this test; disable background loop by not calling Start.
	m := NewManager(2*time.Second, time.Second, gate, time.Now)

	h, err := m.Adopt(context.Background(), sample(t))
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, 1, m.Count())

	got, ok := m.Get(h.ID)
	require.True(t, ok)
	require.Same(t, h, got)

	ds, err := m.Dataset(h.ID)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Rows())

	require.NoError(t, m.CloseHandle(context.Background(), h.ID))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
	require.ErrorIs(t, m.CloseHandle(context.Background(), h.ID), ErrHandleNotFound)
	_, err = m.Dataset(h.ID)
	require.ErrorIs(t, err, ErrHandleNotFound)
}

func TestTTLExpiryAndEviction(t *testing.T) {
	// Custom clock we can advance.
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewManager(50*time.Millisecond, 5*time.Millisecond, gate, clock)

	_, err := m.Adopt(context.Background(), sample(t))
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	// Advance time beyond TTL and evict.
	now.Store(time.Now().Add(200 * time.Millisecond).UnixNano())
	m.EvictExpired()

	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestGetRefreshesTTL(t *testing.T) {
	var now atomic.Int64
	base := time.Now()
	now.Store(base.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewManager(100*time.Millisecond, time.Second, nil, clock)
	h, err := m.Adopt(context.Background(), sample(t))
	require.NoError(t, err)

	now.Store(base.Add(80 * time.Millisecond).UnixNano())
	_, ok := m.Get(h.ID)
	require.True(t, ok)

	now.Store(base.Add(150 * time.Millisecond).UnixNano())
	m.EvictExpired()
	require.Equal(t, 1, m.Count())
}

func TestOpen_LoadsFileAndDefault(t *testing.T) {
	p := writeFile(t, "people.csv", "name,age\nAnn,30\nBob,35\n")
	m := NewManager(time.Second, time.Second, nil, time.Now)

	h, err := m.Open(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, p, h.Path)
	require.Equal(t, "people.csv", h.Dataset.Name())

	m.WithDefaultPath(p)
	h2, err := m.Open(context.Background(), "  ")
	require.NoError(t, err)
	require.Equal(t, p, h2.Path)
	require.NotEqual(t, h.ID, h2.ID)
	require.Equal(t, 2, m.Count())
}

func TestOpen_LoadErrorReleasesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, gate, time.Now)

	p := writeFile(t, "empty.csv", "a,b\n")
	_, err := m.Open(context.Background(), p)
	var le *dataset.LoadError
	require.ErrorAs(t, err, &le)
	require.Equal(t, dataset.ReasonEmpty, le.Reason)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())
	require.Equal(t, 0, m.Count())
}

func TestOpen_SizeLimit(t *testing.T) {
	p := writeFile(t, "big.csv", "a\n"+strings.Repeat("1\n", 100))
	m := NewManager(time.Second, time.Second, nil, time.Now).WithMaxBytes(16)
	_, err := m.Open(context.Background(), p)
	var le *dataset.LoadError
	require.ErrorAs(t, err, &le)
	require.Equal(t, dataset.ReasonUnreadable, le.Reason)
}

func TestOpen_GateBusy(t *testing.T) {
	gate := &fakeGate{acquireErr: context.DeadlineExceeded}
	m := NewManager(time.Second, time.Second, gate, time.Now)

	_, err := m.Open(context.Background(), "data.csv")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(0), gate.releases.Load())
}

type denyValidator struct{}

func (denyValidator) ValidateOpenPath(string) (string, error) { return "", fmt.Errorf("denied") }

func TestOpen_PathValidatorDenied_ReleasesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, gate, time.Now).WithValidator(denyValidator{})

	_, err := m.Open(context.Background(), "ok.csv")
	require.EqualError(t, err, "denied")
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestClose_ReleasesEverything(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Millisecond, gate, time.Now)
	m.Start()
	for i := 0; i < 3; i++ {
		_, err := m.Adopt(context.Background(), sample(t))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close(context.Background()))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(3), gate.releases.Load())

	_, err := m.Adopt(context.Background(), nil)
	require.True(t, err != nil && !errors.Is(err, ErrHandleNotFound))
}
