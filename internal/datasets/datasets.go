package datasets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinodismyname/datasavant/config"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

// Handle pairs a loaded dataset with metadata for TTL eviction. The dataset
// itself is immutable, so readers share it without locking.
type Handle struct {
	ID        string
	Path      string
	Dataset   *dataset.Dataset
	LoadedAt  time.Time
	ExpiresAt time.Time
	mu        sync.RWMutex
}

// DatasetGate coordinates capacity for open dataset handles (backed by runtime.Controller).
type DatasetGate interface {
	AcquireDataset(ctx context.Context) error
	ReleaseDataset()
}

// PathValidator abstracts filesystem path validation. Implementations should
// return a canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Manager owns the lifecycle of loaded datasets behind opaque handle IDs.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         DatasetGate
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
	validator    PathValidator
	defaultPath  string
	maxBytes     int64
}

// NewManager constructs a lifecycle manager with TTL-bearing handle cache.
// Pass ttl or cleanupEvery <= 0 to use defaults from config.
// Gate can be nil for tests; clock defaults to time.Now when nil.
func NewManager(ttl, cleanupEvery time.Duration, gate DatasetGate, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultDatasetIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultDatasetCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		stopCh:       make(chan struct{}),
		defaultPath:  config.DefaultDatasetPath,
		maxBytes:     config.DefaultMaxDatasetBytes,
	}
}

// WithValidator installs path validation applied before every load.
func (m *Manager) WithValidator(v PathValidator) *Manager {
	m.validator = v
	return m
}

// WithDefaultPath sets the dataset opened when Open is called with an empty path.
func (m *Manager) WithDefaultPath(path string) *Manager {
	if strings.TrimSpace(path) != "" {
		m.defaultPath = path
	}
	return m
}

// WithMaxBytes bounds the size of a loadable file.
func (m *Manager) WithMaxBytes(n int64) *Manager {
	if n > 0 {
		m.maxBytes = n
	}
	return m
}

// DefaultPath reports the dataset used when no path is supplied.
func (m *Manager) DefaultPath() string { return m.defaultPath }

// Start launches periodic eviction of expired handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops all open handles.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.handles {
		delete(m.handles, id)
		m.release()
	}
	return nil
}

// ErrHandleNotFound indicates an unknown or expired handle ID.
var ErrHandleNotFound = errors.New("datasets: handle not found")

// Open loads a dataset from path, registers a TTL-bearing handle, and returns
// the handle. An empty path opens the default dataset. Open-dataset capacity
// is enforced via the gate when provided.
func (m *Manager) Open(ctx context.Context, path string) (*Handle, error) {
	if strings.TrimSpace(path) == "" {
		path = m.defaultPath
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}

	if m.validator != nil {
		canonical, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			m.release()
			return nil, err
		}
		path = canonical
	}

	ds, err := dataset.LoadFile(path, dataset.LoadOptions{MaxBytes: m.maxBytes})
	if err != nil {
		m.release()
		return nil, err
	}
	return m.register(path, ds), nil
}

// Adopt registers an already-loaded dataset, e.g. one parsed from an upload.
func (m *Manager) Adopt(ctx context.Context, ds *dataset.Dataset) (*Handle, error) {
	if ds == nil {
		return nil, fmt.Errorf("datasets: nil dataset")
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	return m.register("", ds), nil
}

func (m *Manager) register(path string, ds *dataset.Dataset) *Handle {
	loadedAt := m.clock()
	h := &Handle{
		ID:        uuid.NewString(),
		Path:      path,
		Dataset:   ds,
		LoadedAt:  loadedAt,
		ExpiresAt: loadedAt.Add(m.ttl),
	}
	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	return h
}

// Get returns the handle when present and refreshes its TTL.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// Refresh TTL on access (idle timeout semantics)
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// Dataset resolves a handle ID to its dataset.
func (m *Manager) Dataset(id string) (*dataset.Dataset, error) {
	h, ok := m.Get(id)
	if !ok {
		return nil, ErrHandleNotFound
	}
	return h.Dataset, nil
}

// CloseHandle removes a handle by ID, releasing capacity via the gate.
// Sessions already holding the dataset keep using it until they finish.
func (m *Manager) CloseHandle(_ context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	m.release()
	return nil
}

// EvictExpired scans for expired handles and drops them.
func (m *Manager) EvictExpired() {
	now := m.clock()
	var expiredIDs []string

	m.mu.RLock()
	for id, h := range m.handles {
		if h.Expired(now) {
			expiredIDs = append(expiredIDs, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expiredIDs {
		m.mu.Lock()
		_, ok := m.handles[id]
		delete(m.handles, id)
		m.mu.Unlock()
		if ok {
			m.release()
		}
	}
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireDataset(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseDataset()
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return now.After(h.ExpiresAt)
}
